package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"rxscan/models"
	"rxscan/pkg/analyzer"
	"rxscan/pkg/cache"
	"rxscan/pkg/config"
	"rxscan/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupPostgresServer runs against the database in DB_DSN. Integration tests
// are opt-in: set DB_DSN_TEST=1 and DB_DSN to run them.
func setupPostgresServer(t *testing.T) *gin.Engine {
	t.Helper()
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	t.Setenv("UPLOAD_BASE", t.TempDir())
	t.Setenv("APP_ENV", "test")
	var err error
	cfg, err = config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.DBAutoMigrate = true
	logger = zap.NewNop()
	jwtSecret = []byte(cfg.JWTSecret)
	require.NoError(t, initDB())
	mtr = metrics.New(nil)
	az = analyzer.New(&fakeEngine{text: sampleText}, nil, analyzer.Options{Cache: cache.Nop{}, Metrics: mtr, Logger: logger})
	analyzeLimiter = newIPLimiter(100, 100)
	return newRouter()
}

func TestFullFlow(t *testing.T) {
	r := setupPostgresServer(t)
	username := "it-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	// 1. Register and log in
	resp := postJSON(r, "/register", map[string]string{"username": username, "password": "pass123"}, "")
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	token, _ := login(t, r, username, "pass123")

	// 2. Create profile
	resp = postJSON(r, "/profile", map[string]string{"name": "Integration Patient", "email": "it@example.com"}, token)
	if resp.Code != 200 {
		t.Fatalf("create profile failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 3. Upload a prescription image
	resp = uploadFile(t, r, "/prescriptions", token, "sample.png", pngBytes(t, uint8(time.Now().UnixNano()%250)))
	if resp.Code != http.StatusCreated && resp.Code != http.StatusOK {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var p models.Prescription
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &p))
	if len(p.Medicines) == 0 {
		t.Fatalf("expected medicines in %s", resp.Body.String())
	}

	// 4. List and follow-ups
	resp = performRequest(r, http.MethodGet, "/prescriptions", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("list prescriptions failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/followups?days=30", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("followups failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 5. Delete
	resp = performRequest(r, http.MethodDelete, "/prescriptions/"+strconv.FormatUint(uint64(p.ID), 10), nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("delete failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 6. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/prescriptions", nil, "", "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list got %d", unauth.Code)
	}
}

func TestMigrateCommand(t *testing.T) {
	setupPostgresServer(t)
	if _, err := markFollowUpsDue(time.Now()); err != nil {
		t.Fatalf("mark follow-ups: %v", err)
	}
}
