package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"rxscan/pkg/config"
	"rxscan/pkg/database"
	"rxscan/process/report"
)

func main() {
	username := flag.String("username", "admin", "username to report for")
	month := flag.String("month", time.Now().UTC().Format("2006-01"), "month to report (YYYY-MM)")
	top := flag.Int("top", 5, "number of most prescribed medicines to show")
	list := flag.Bool("list", false, "list matching rows")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	s, err := report.Build(db, *username, *month, *top, *list)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	s.Print(os.Stdout)
}
