package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"rxscan/pkg/analyzer"
	"rxscan/pkg/config"
	"rxscan/pkg/records"
)

type candidate struct {
	id        uint
	username  string
	storePath string
}

// Re-runs analysis, bypassing the OCR cache, on stored prescriptions that
// ended up with no medicines, and updates the ones that now have some.
func main() {
	username := flag.String("username", "", "only retry this user's prescriptions (default all)")
	limit := flag.Int("limit", 100, "maximum prescriptions to retry")
	dryRun := flag.Bool("dry-run", false, "analyze but do not write")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		log.Fatal("retry tool needs DB_DRIVER=postgres")
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	sqlDB, err := sql.Open("postgres", cfg.DBDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqlDB.Close()

	rows, err := findEmpty(sqlDB, *username, *limit)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	if len(rows) == 0 {
		fmt.Println("nothing to retry")
		return
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("gorm: %v", err)
	}
	engine, err := analyzer.BuildEngine(cfg, logger)
	if err != nil {
		log.Fatalf("ocr: %v", err)
	}
	kb, err := analyzer.KnowledgeFromConfig(cfg)
	if err != nil {
		log.Fatalf("knowledge: %v", err)
	}
	az := analyzer.New(engine, kb, analyzer.Options{Logger: logger})

	updated := 0
	for _, c := range rows {
		path := filepath.Join(cfg.UploadBase, filepath.FromSlash(c.storePath))
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("open %s: %v", path, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		rep, err := az.Reanalyze(ctx, data)
		cancel()
		if err != nil {
			log.Printf("analyze id=%d: %v", c.id, err)
			continue
		}
		if len(rep.Prescription.Medicines) == 0 {
			log.Printf("still no medicines for id=%d user=%s (engine=%s lines=%d)", c.id, c.username, rep.Engine, len(rep.Lines))
			continue
		}
		if *dryRun {
			fmt.Printf("would update id=%d medicines=%d diagnosis=%q\n", c.id, len(rep.Prescription.Medicines), rep.Prescription.Diagnosis)
			continue
		}
		p, err := records.Load(gdb, c.id)
		if err != nil {
			log.Printf("load id=%d: %v", c.id, err)
			continue
		}
		if err := records.Replace(gdb, p, rep); err != nil {
			log.Printf("update id=%d: %v", c.id, err)
			continue
		}
		updated++
		fmt.Printf("updated id=%d user=%s medicines=%d diagnosis=%q\n", c.id, c.username, len(p.Medicines), p.Diagnosis)
	}
	fmt.Printf("retried %d, updated %d\n", len(rows), updated)
}

func findEmpty(db *sql.DB, username string, limit int) ([]candidate, error) {
	rows, err := db.Query(`SELECT p.id, u.username, up.store_path
		FROM prescriptions p
		JOIN uploads up ON up.id = p.upload_id
		JOIN profiles pr ON pr.id = p.profile_id
		JOIN users u ON u.id = pr.user_id
		WHERE ($1::text = '' OR u.username = $1)
		  AND NOT EXISTS (SELECT 1 FROM prescription_medicines pm WHERE pm.prescription_id = p.id)
		ORDER BY p.id
		LIMIT $2`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []candidate
	for rows.Next() {
		var c candidate
		var store sql.NullString
		if err := rows.Scan(&c.id, &c.username, &store); err != nil {
			return nil, err
		}
		if !store.Valid || store.String == "" {
			continue
		}
		c.storePath = store.String
		out = append(out, c)
	}
	return out, rows.Err()
}
