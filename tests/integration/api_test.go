package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/httplog/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tinyscale/tinylink/internal/config"
	"github.com/tinyscale/tinylink/internal/database"
	"github.com/tinyscale/tinylink/internal/database/postgres"
	"github.com/tinyscale/tinylink/internal/models"
	"github.com/tinyscale/tinylink/internal/service"
	"github.com/tinyscale/tinylink/internal/sweeper"
	"github.com/tinyscale/tinylink/internal/validation"

	api "github.com/tinyscale/tinylink/internal/api/http"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const testBaseURL = "http://localhost:8080"

type APITestSuite struct {
	suite.Suite
	pgCont    testcontainers.Container
	cfg       config.Postgres
	db        *sqlx.DB
	urlRepo   *postgres.ShortURLRepository
	clickRepo *postgres.ClickRepository
	targetSrv *httptest.Server
	deadSrv   *httptest.Server
	threatSrv *httptest.Server
	server    *httptest.Server
	e         *httpexpect.Expect
}

func (suite *APITestSuite) SetupSuite() {
	ctx := context.Background()

	pgUser := "test"
	pgPassword := "test"
	pgDB := "tinylink"

	var err error
	suite.pgCont, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDB,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %v", err)
	}
	suite.T().Cleanup(func() {
		if err := suite.pgCont.Terminate(ctx); err != nil {
			suite.T().Fatalf("Failed to terminate postgres container: %v", err)
		}
	})

	pgHost, err := suite.pgCont.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get postgres container host: %v", err)
	}

	pgPort, err := suite.pgCont.MappedPort(ctx, "5432")
	if err != nil {
		suite.T().Fatalf("Failed to get postgres container port: %v", err)
	}

	suite.cfg = config.Postgres{
		User:     pgUser,
		Password: pgPassword,
		Host:     pgHost,
		Port:     pgPort.Int(),
		DB:       pgDB,
		SSLMode:  "disable",
	}

	suite.db, err = sqlx.Connect("pgx", suite.cfg.DSN())
	if err != nil {
		suite.T().Fatalf("Failed to connect to database: %v", err)
	}
	suite.T().Cleanup(func() {
		if err := suite.db.Close(); err != nil {
			suite.T().Fatalf("Failed to close database: %v", err)
		}
	})

	m, err := migrate.New("file://../../migrations", suite.cfg.DSN())
	if err != nil {
		suite.T().Fatalf("Failed to initialize migrations: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		suite.T().Fatalf("Failed to run migrations: %v", err)
	}
	suite.T().Cleanup(func() {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			suite.T().Fatalf("Failed to rollback migrations: %v", err)
		}
	})

	// Stand-in targets for the reachability probe: one that answers and one
	// that never does.
	suite.targetSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	suite.T().Cleanup(suite.targetSrv.Close)

	suite.deadSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	suite.T().Cleanup(suite.deadSrv.Close)

	// Threat lookup stub: URLs containing "/evil" come back as malware
	// matches, everything else is clean.
	suite.threatSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		if strings.Contains(string(body), "/evil") {
			fmt.Fprintln(w, `{"matches":[{"threatType":"MALWARE"}]}`)
			return
		}

		fmt.Fprintln(w, `{}`)
	}))
	suite.T().Cleanup(suite.threatSrv.Close)

	suite.urlRepo = postgres.NewShortURLRepository(suite.db)
	suite.clickRepo = postgres.NewClickRepository(suite.db)

	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	checkClient := &http.Client{Timeout: 5 * time.Second}

	gate := validation.NewGate(
		suite.urlRepo,
		validation.NewHTTPProber(checkClient),
		validation.NewSafeBrowsingChecker(checkClient, suite.threatSrv.URL, "tinylink", "0.1", slogger),
		5*time.Second,
		slogger,
	)

	urlSvc := service.NewURLService(suite.urlRepo, suite.clickRepo, gate, service.NanoIDGenerator{}, 7, slogger)

	logger := httplog.NewLogger("", httplog.Options{Writer: io.Discard})
	router := api.NewRouter(logger, urlSvc, testBaseURL)
	suite.server = httptest.NewServer(router)
	suite.T().Cleanup(suite.server.Close)

	suite.e = httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  suite.server.URL,
		Reporter: httpexpect.NewAssertReporter(suite.T()),
		Client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

func (suite *APITestSuite) TearDownSubTest() {
	ctx := context.Background()

	_, err := suite.db.ExecContext(ctx, `TRUNCATE TABLE click, shorturl`)
	if err != nil {
		suite.T().Fatalf("Failed to clean tables: %v", err)
	}
}

// createLink posts the form and returns the key of the created short URL.
func (suite *APITestSuite) createLink(target string, fields map[string]string) string {
	req := suite.e.POST("/api/link").WithFormField("url", target)
	for k, v := range fields {
		req = req.WithFormField(k, v)
	}

	resp := req.Expect().
		Status(http.StatusCreated).
		JSON().Object()

	return resp.Value("data").Object().Value("key").String().Raw()
}

func (suite *APITestSuite) waitForValidation(key string, state models.ValidationState) {
	suite.Require().Eventually(func() bool {
		url, err := suite.urlRepo.FindByKey(context.Background(), key)
		return err == nil && url.Validation == state
	}, 5*time.Second, 50*time.Millisecond)
}

func (suite *APITestSuite) waitForRemoval(key string) {
	suite.Require().Eventually(func() bool {
		_, err := suite.urlRepo.FindByKey(context.Background(), key)
		return errors.Is(err, database.ErrShortURLNotFound)
	}, 5*time.Second, 50*time.Millisecond)
}

func (suite *APITestSuite) TestPing() {
	suite.Run("success", func() {
		suite.e.GET("/ping").
			Expect().
			Status(http.StatusOK).
			Text().IsEqual("pong\n")
	})
}

func (suite *APITestSuite) TestCreateLink() {
	const path = "/api/link"

	suite.Run("invalid url", func() {
		suite.e.POST(path).
			WithFormField("url", "not a url").
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			HasValue("status", "error")
	})

	suite.Run("invalid number of uses", func() {
		suite.e.POST(path).
			WithFormField("url", suite.targetSrv.URL).
			WithFormField("leftUses", "0").
			Expect().
			Status(http.StatusBadRequest).
			JSON().Object().
			HasValue("status", "error").
			HasValue("message", "[0] is not a valid number of uses: it must be a number greater than 0")
	})

	suite.Run("success", func() {
		resp := suite.e.POST(path).
			WithFormField("url", suite.targetSrv.URL).
			WithFormField("sponsor", "acme").
			Expect().
			Status(http.StatusCreated).
			JSON().Object()

		resp.HasValue("status", "success")

		data := resp.Value("data").Object()
		data.HasValue("target", suite.targetSrv.URL)
		data.HasValue("safe", false)

		key := data.Value("key").String().NotEmpty().Raw()
		data.HasValue("url", testBaseURL+"/tiny-"+key)

		suite.waitForValidation(key, models.ValidationPass)
	})
}

func (suite *APITestSuite) TestRedirect() {
	suite.Run("unknown key", func() {
		suite.e.GET("/tiny-unknown").
			Expect().
			Status(http.StatusNotFound).
			JSON().Object().
			HasValue("status", "error")
	})

	suite.Run("success and click log", func() {
		key := suite.createLink(suite.targetSrv.URL, nil)
		suite.waitForValidation(key, models.ValidationPass)

		suite.e.GET("/tiny-" + key).
			Expect().
			Status(http.StatusTemporaryRedirect).
			Header("Location").IsEqual(suite.targetSrv.URL)

		var count int
		err := suite.db.GetContext(context.Background(), &count,
			`SELECT COUNT(*) FROM click WHERE hash = $1`, key)

		suite.Require().NoError(err)
		suite.Equal(1, count)
	})

	suite.Run("unsafe target is removed", func() {
		key := suite.createLink(suite.targetSrv.URL+"/evil", nil)

		suite.waitForRemoval(key)

		suite.e.GET("/tiny-" + key).
			Expect().
			Status(http.StatusNotFound)
	})

	suite.Run("unreachable target is removed", func() {
		key := suite.createLink(suite.deadSrv.URL, nil)

		suite.waitForRemoval(key)

		suite.e.GET("/tiny-" + key).
			Expect().
			Status(http.StatusNotFound)
	})

	suite.Run("uses are consumed until exhaustion", func() {
		key := suite.createLink(suite.targetSrv.URL, map[string]string{"leftUses": "2"})
		suite.waitForValidation(key, models.ValidationPass)

		for i := 0; i < 2; i++ {
			suite.e.GET("/tiny-" + key).
				Expect().
				Status(http.StatusTemporaryRedirect)
		}

		suite.e.GET("/tiny-" + key).
			Expect().
			Status(http.StatusNotFound)

		suite.waitForRemoval(key)
	})

	suite.Run("expired key answers not found", func() {
		expiration := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
		key := suite.createLink(suite.targetSrv.URL, map[string]string{"expiration": expiration})
		suite.waitForValidation(key, models.ValidationPass)

		suite.e.GET("/tiny-" + key).
			Expect().
			Status(http.StatusNotFound)

		suite.waitForRemoval(key)
	})
}

func (suite *APITestSuite) TestSweep() {
	suite.Run("expired and exhausted records are removed", func() {
		ctx := context.Background()
		slogger := slog.New(slog.NewTextHandler(io.Discard, nil))

		pastExpiration := time.Now().UTC().Add(-time.Hour)
		_, err := suite.urlRepo.Save(ctx, &models.ShortURL{
			Key:        "expired",
			TargetURL:  suite.targetSrv.URL,
			ExpiresAt:  &pastExpiration,
			Validation: models.ValidationPass,
		})
		suite.Require().NoError(err)

		oneUse := int64(1)
		_, err = suite.urlRepo.Save(ctx, &models.ShortURL{
			Key:        "exhausted",
			TargetURL:  suite.targetSrv.URL,
			LeftUses:   &oneUse,
			Validation: models.ValidationPass,
		})
		suite.Require().NoError(err)

		consumed, err := suite.urlRepo.ConsumeUse(ctx, "exhausted")
		suite.Require().NoError(err)
		suite.Require().True(consumed)

		sw := sweeper.New(suite.urlRepo, time.Minute, slogger)
		expired, exhausted := sw.Sweep(ctx)

		suite.Equal(int64(1), expired)
		suite.Equal(int64(1), exhausted)

		_, err = suite.urlRepo.FindByKey(ctx, "expired")
		suite.ErrorIs(err, database.ErrShortURLNotFound)

		_, err = suite.urlRepo.FindByKey(ctx, "exhausted")
		suite.ErrorIs(err, database.ErrShortURLNotFound)
	})
}

func TestAPI(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	suite.Run(t, new(APITestSuite))
}
