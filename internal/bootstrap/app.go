// Package bootstrap is the composition root: it turns configuration into a
// fully wired application, with in-memory fallbacks for dev mode.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"taxrecovery-backend/internal/analyses"
	"taxrecovery-backend/internal/batches"
	"taxrecovery-backend/internal/consolidate"
	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/engine"
	"taxrecovery-backend/internal/extract"
	"taxrecovery-backend/internal/procdoc"
	"taxrecovery-backend/internal/queue"
	"taxrecovery-backend/internal/services/health"
	"taxrecovery-backend/internal/shared/config"
	"taxrecovery-backend/internal/shared/metrics"
	"taxrecovery-backend/internal/shared/server"
	"taxrecovery-backend/internal/shared/storage/db"
	"taxrecovery-backend/internal/shared/storage/object"
	localstore "taxrecovery-backend/internal/shared/storage/object/local"
	s3store "taxrecovery-backend/internal/shared/storage/object/s3"
)

// Options adjusts what Build prepares for a given process.
type Options struct {
	// Worker selects the worker-process connection pool sizing.
	Worker bool
}

// App holds the wired application.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore

	DocQueue *queue.Queue
	ConQueue *queue.Queue

	BatchesRepo  batches.Repo
	DocsRepo     documents.Repo
	AnalysesRepo analyses.Repo

	Engine engine.Client

	BatchService       *batches.Service
	DocumentService    *documents.Service
	ConsolidateService *consolidate.Service
	Processor          *procdoc.Processor

	BatchHandler    *batches.Handler
	DocumentHandler *documents.Handler
	Health          *health.Service
}

// Build prepares the application's shared dependencies and router.
func Build(cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
	}
	buildQueues(app)
	buildServices(app)

	app.Health = health.NewService(sqlDB)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		BatchHandler:    app.BatchHandler,
		DocumentHandler: app.DocumentHandler,
		Health:          app.Health,
	})
	return app, nil
}

// Close releases the app's long-lived resources.
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func buildDB(ctx context.Context, cfg config.Config, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if opts.Worker {
		defaults = db.DefaultWorkerOptions()
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(defaults))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.AWSRegion) == "" || strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires AWS_REGION and S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueues(app *App) {
	var store queue.Store
	if app.DB != nil {
		store = &queue.PGStore{DB: app.DB}
	} else {
		store = queue.NewMemoryStore()
	}
	app.DocQueue = queue.New(queue.QueueDocuments, store, queue.DocumentQueueConfig())
	app.ConQueue = queue.New(queue.QueueConsolidation, store, queue.ConsolidationQueueConfig())
}

func buildServices(app *App) {
	if app.DB != nil {
		app.BatchesRepo = &batches.PGRepo{DB: app.DB}
		app.DocsRepo = &documents.PGRepo{DB: app.DB}
		app.AnalysesRepo = &analyses.PGRepo{DB: app.DB}
	} else {
		app.BatchesRepo = batches.NewMemoryRepo()
		app.DocsRepo = documents.NewMemoryRepo()
		app.AnalysesRepo = analyses.NewMemoryRepo()
	}

	app.Engine = buildEngine(app.Config)

	app.BatchService = &batches.Service{
		Repo:     app.BatchesRepo,
		DocRepo:  app.DocsRepo,
		DocQueue: app.DocQueue,
		ConQueue: app.ConQueue,
		TmpDir:   app.Config.UploadTmpDir,
	}
	app.DocumentService = &documents.Service{
		Repo:     app.DocsRepo,
		Analyses: app.AnalysesRepo,
		TmpDir:   app.Config.UploadTmpDir,
		Dispatch: dispatchVia(app.DocQueue),
	}
	app.ConsolidateService = &consolidate.Service{
		Batches:  app.BatchesRepo,
		Docs:     app.DocsRepo,
		Analyses: app.AnalysesRepo,
	}
	app.Processor = &procdoc.Processor{
		Docs:        app.DocsRepo,
		Analyses:    app.AnalysesRepo,
		Batches:     app.BatchesRepo,
		Extractor:   extract.Extractor{},
		Engine:      app.Engine,
		Store:       app.Store,
		ConQueue:    app.ConQueue,
		Consolidate: app.ConsolidateService,
	}

	app.BatchHandler = batches.NewHandler(app.BatchService, app.DocQueue, app.ConQueue)
	app.DocumentHandler = documents.NewHandler(app.DocumentService)
}

func buildEngine(cfg config.Config) engine.Client {
	if strings.TrimSpace(cfg.EngineBaseURL) == "" {
		log.Printf("bootstrap: ENGINE_BASE_URL empty; using placeholder analysis client")
		return engine.PlaceholderClient{}
	}
	client, err := engine.NewHTTPClient(engine.Config{
		BaseURL: cfg.EngineBaseURL,
		APIKey:  cfg.EngineAPIKey,
		Timeout: cfg.EngineTimeout,
	})
	if err != nil {
		log.Printf("bootstrap: analysis engine client failed; using placeholder: %v", err)
		return engine.PlaceholderClient{}
	}
	return client
}

// dispatchVia binds the standalone-document service to the document queue.
func dispatchVia(q *queue.Queue) documents.Dispatch {
	return func(ctx context.Context, doc documents.Document, filePath string) error {
		data := queue.DocumentJobData{
			DocumentID:   doc.ID,
			UserID:       doc.UserID,
			FilePath:     filePath,
			FileName:     doc.FileName,
			MimeType:     doc.MimeType,
			DocumentType: doc.DocumentType,
			CompanyInfo:  doc.Company,
		}
		if _, err := q.Enqueue(ctx, data); err != nil {
			return err
		}
		metrics.IncJobEnqueued()
		return nil
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
