package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service represents the application service with its collaborators
type Service struct {
	db         *sql.DB
	config     *Config
	logger     *zap.Logger
	remote     Remote
	graphql    *GraphQLClient
	proxy      *http.Client
	localizers *Localizers
	fieldCache KeyValueStore
	codec      *Codec
	renderer   *Renderer
	assembler  *Assembler
	gate       *Gate
	drafts     *DraftStore
	records    *recordCache
}

// NewService connects the local database, builds the remote client and wires
// every component.
func NewService(config *Config, logger *zap.Logger) (*Service, error) {
	log := logger.Named("service")
	log.Info("Initializing service", zap.String("db_engine", config.DBEngine))

	db, err := connectDB(config, logger.Named("database"))
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		log.Error("Failed to ping database", zap.Error(err))
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("Database connection established")

	gql := NewGraphQLClient(config.GraphQLEndpoint, config.GraphQLAdminSecret, config.GraphQLTimeout, logger.Named("graphql"))
	remote := NewHasuraRemote(gql, logger.Named("remote"))

	service := newService(db, config, remote, gql, defaultCapabilities(config, remote), logger)
	if err := service.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize local tables: %w", err)
	}
	log.Info("Service ready")
	return service, nil
}

// newService wires components around already-built collaborators. A nil db
// keeps CACHE values in memory.
func newService(db *sql.DB, config *Config, remote Remote, gql *GraphQLClient, caps Capabilities, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := config.Location()

	var fieldCache KeyValueStore = newMemoryFieldCache()
	if db != nil {
		fieldCache = newSQLFieldCache(db, config.DBEngine)
	}
	if caps.Lookup == nil && remote != nil {
		caps.Lookup = remote
	}

	codec := NewCodec(fieldCache, loc, logger.Named("codec"))
	choices := NewChoiceResolver(logger.Named("options"))
	records := newRecordCache(config.RecordCacheSize, config.RecordCacheTTL)
	assembler := NewAssembler(codec, remote, logger.Named("assembler"))

	return &Service{
		db:         db,
		config:     config,
		logger:     logger,
		remote:     remote,
		graphql:    gql,
		proxy:      &http.Client{Timeout: config.GraphQLTimeout},
		localizers: NewLocalizers(config.DefaultLanguage, loc),
		fieldCache: fieldCache,
		codec:      codec,
		renderer:   NewRenderer(codec, choices, caps, logger.Named("renderer")),
		assembler:  assembler,
		gate:       NewGate(remote, assembler, records, logger.Named("workflow")),
		drafts:     NewDraftStore(),
		records:    records,
	}
}

// defaultCapabilities normalizes what the browser captured and uploaded.
func defaultCapabilities(config *Config, lookup SearchLookup) Capabilities {
	upload := newUploadCapture(config.MaxCaptureBytes)
	caps := Capabilities{
		Camera:     upload,
		Screen:     upload,
		Microphone: upload,
		Location:   newBrowserLocator(),
		Scanner:    NewQRScanner(nil, config.QRScanTimeout, 0),
		Files:      newUploadFiles(config.MaxCaptureBytes),
		Lookup:     lookup,
	}
	if config.GeocoderURL != "" {
		caps.Geocoder = newNominatimGeocoder(config.GeocoderURL, 5*time.Second)
	}
	return caps
}

func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// loadRecords returns a form's submissions, from the record cache when present.
// Lists are cached per bearer because the remote filters rows by caller.
func (s *Service) loadRecords(ctx context.Context, formID string) ([]FormSubmission, error) {
	principal := bearerFromContext(ctx)
	if subs, ok := s.records.Get(formID, principal); ok {
		return subs, nil
	}
	subs, err := s.remote.FetchSubmissions(ctx, formID)
	if err != nil {
		return nil, err
	}
	s.records.Put(formID, principal, subs)
	return subs, nil
}

// loadForm fetches the form first, then its fields and submissions concurrently.
func (s *Service) loadForm(ctx context.Context, formID string) (*Form, []FormSubmission, error) {
	form, err := s.remote.FetchForm(ctx, formID)
	if err != nil {
		return nil, nil, err
	}

	var fields []Field
	var subs []FormSubmission
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fields, err = s.remote.FetchFormFields(gctx, form.ID)
		return err
	})
	g.Go(func() error {
		var err error
		subs, err = s.loadRecords(gctx, form.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	form.Fields = fields
	return form, subs, nil
}

// formField loads a form's fields and picks one of them.
func (s *Service) formField(ctx context.Context, formID, fieldID string) ([]Field, *Field, error) {
	fields, err := s.remote.FetchFormFields(ctx, formID)
	if err != nil {
		return nil, nil, err
	}
	for i := range fields {
		if fields[i].ID == fieldID {
			return fields, &fields[i], nil
		}
	}
	return fields, nil, NotFoundError(fmt.Sprintf("field %s not found in form %s", fieldID, formID))
}

// draftValue is the value the form currently shows for a field.
func (s *Service) draftValue(ctx context.Context, formID string, f Field) FieldValue {
	if v, ok := s.drafts.Value(sessionFromContext(ctx), formID, f.ID); ok {
		return v
	}
	return s.codec.DefaultValue(ctx, f)
}
