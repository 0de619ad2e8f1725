package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/writerrose28/ReDerma/internal/analyzer"
	"github.com/writerrose28/ReDerma/internal/billing"
	"github.com/writerrose28/ReDerma/internal/consent"
	"github.com/writerrose28/ReDerma/internal/middleware"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/internal/pipeline"
	"github.com/writerrose28/ReDerma/internal/ratelimit"
	"github.com/writerrose28/ReDerma/internal/retention"
	"github.com/writerrose28/ReDerma/internal/storage"
	"github.com/writerrose28/ReDerma/pkg/config"
	"github.com/writerrose28/ReDerma/pkg/jwtutil"
)

type fakeVision struct{}

func (fakeVision) Analyze(_ context.Context, _ analyzer.Request) (json.RawMessage, error) {
	return json.RawMessage(`{"summary":"mild irritation","see_doctor":false}`), nil
}

type fakeCanceler struct {
	canceled []string
}

func (f *fakeCanceler) CancelSubscription(_ context.Context, subscriptionID string) error {
	f.canceled = append(f.canceled, subscriptionID)
	return nil
}

// fakeProvider accepts any payload carrying the signature "valid" and hands
// back the pre-staged event
type fakeProvider struct {
	event    *billing.Event
	canceled []string
}

func (f *fakeProvider) EnsureCustomer(_ context.Context, _ *model.Account) (string, error) {
	return "cus_test", nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, _ *model.Account, _ string) (string, error) {
	return "https://billing.example.com/session/test", nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string) error {
	f.canceled = append(f.canceled, subscriptionID)
	return nil
}

func (f *fakeProvider) VerifyWebhook(_ []byte, signature string) (*billing.Event, error) {
	if signature != "valid" || f.event == nil {
		return nil, billing.ErrSignatureInvalid
	}
	return f.event, nil
}

type testEnv struct {
	e        *echo.Echo
	db       *gorm.DB
	cfg      *config.Config
	jwt      *jwtutil.JWTUtil
	blobs    *storage.MemoryStore
	canceler *fakeCanceler
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.Submission{}, &model.ConsentRecord{}, &model.BillingEvent{}))

	cfg := &config.Config{
		Server: config.ServerConfig{Env: "test"},
		JWT: config.JWTConfig{
			AccessKey:  "test-access-key",
			RefreshKey: "test-refresh-key",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		Quota: config.QuotaConfig{
			FreePerHour:    2,
			PremiumPerHour: 50,
			MaxUploadBytes: 1 << 20,
			MaxImageDim:    1024,
		},
		Retention: config.RetentionConfig{
			SubmissionTTL:      365 * 24 * time.Hour,
			DeletionGrace:      30 * 24 * time.Hour,
			ConfirmationPhrase: "DELETE MY ACCOUNT",
			PolicyVersion:      "2025-06",
		},
	}

	jwt := jwtutil.New(&cfg.JWT)
	ledger := consent.NewLedger(db)
	blobs := storage.NewMemoryStore()
	limiter := ratelimit.New(&cfg.Quota)
	pipe := pipeline.New(db, blobs, fakeVision{}, &cfg.Quota, cfg.Retention.SubmissionTTL, zap.NewNop())
	canceler := &fakeCanceler{}
	manager := retention.NewManager(db, blobs, canceler, cfg.Retention.DeletionGrace, cfg.Retention.ConfirmationPhrase, zap.NewNop())

	provider := &fakeProvider{}
	sync := billing.NewSync(db, zap.NewNop())

	authHandler := NewAuthHandler(db, jwt, ledger, cfg)
	analysisHandler := NewAnalysisHandler(db, pipe, blobs, ledger, false)
	subscriptionHandler := NewSubscriptionHandler(db, provider, sync)
	gdprHandler := NewGDPRHandler(db, ledger, manager, cfg.Retention.PolicyVersion)

	e := echo.New()
	authMW := middleware.JWTAuthMiddleware(jwt, db)

	auth := e.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.GET("/me", authHandler.Me, authMW)

	bodyLimit := strconv.FormatInt(cfg.Quota.MaxUploadBytes+64<<10, 10)
	analysis := e.Group("/analysis")
	analysis.Use(authMW)
	analysis.POST("", analysisHandler.Create,
		middleware.RateLimitMiddleware(limiter),
		echomiddleware.BodyLimit(bodyLimit))
	analysis.GET("", analysisHandler.List)
	analysis.GET("/:id", analysisHandler.Get)
	analysis.DELETE("/:id", analysisHandler.Delete)

	subscription := e.Group("/subscription")
	subscription.POST("/webhook", subscriptionHandler.Webhook)
	subscription.POST("/create-checkout", subscriptionHandler.CreateCheckout, authMW)
	subscription.POST("/cancel", subscriptionHandler.Cancel, authMW)

	gdpr := e.Group("/gdpr")
	gdpr.Use(authMW)
	gdpr.POST("/consent", gdprHandler.RecordConsent)
	gdpr.GET("/consent", gdprHandler.GetConsent)
	gdpr.POST("/export", gdprHandler.Export)
	gdpr.POST("/delete-account", gdprHandler.DeleteAccount)
	gdpr.POST("/schedule-deletion", gdprHandler.ScheduleDeletion)
	gdpr.POST("/cancel-deletion", gdprHandler.CancelDeletion)

	return &testEnv{e: e, db: db, cfg: cfg, jwt: jwt, blobs: blobs, canceler: canceler, provider: provider}
}

func (env *testEnv) doJSON(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doMultipart(t *testing.T, token string, imageBytes []byte, questionnaire, region string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if imageBytes != nil {
		part, err := w.CreateFormFile("image", "upload.png")
		require.NoError(t, err)
		_, err = part.Write(imageBytes)
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("questionnaire", questionnaire))
	require.NoError(t, w.WriteField("region", region))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/analysis", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

// registerAndLogin runs the real registration flow and returns the account
// id and an access token
func (env *testEnv) registerAndLogin(t *testing.T, email string) (uint, string) {
	t.Helper()

	rec := env.doJSON(http.MethodPost, "/auth/register", "", map[string]interface{}{
		"email":    email,
		"password": "correct-horse-battery",
		"consent":  true,
		"locale":   "en",
		"region":   "EU",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Account struct {
			ID uint `json:"id"`
		} `json:"account"`
		Tokens struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Account.ID, resp.Tokens.AccessToken
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
