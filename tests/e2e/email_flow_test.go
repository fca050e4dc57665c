//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/api/handlers"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/classify"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/database"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/erp"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/extract"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/mailfeed"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/smtpingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/storage"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/thread"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/trust"
)

const intakeAddress = "notices@example.com"

// ==================== ERP Fake ====================

// erpFixture is the in-memory catalog the fake ERP server answers from.
// vendorOutage makes vendor lookups fail with a 502 so transport-failure
// handling can be exercised.
type erpFixture struct {
	mu           sync.RWMutex
	vendors      map[string]erp.Vendor
	parts        map[string]erp.Part
	links        map[string]erp.SupplierPartLink
	parents      map[string][]erp.BOMParent
	forecasts    map[string]erp.Forecast
	contacts     []erp.VendorContact
	vendorOutage bool
}

func floatPtr(v float64) *float64 { return &v }

func linkKey(vendorID, partID string) string { return vendorID + "|" + partID }

// newERPFixture builds the catalog every scenario runs against: vendor
// V-100 supplies a bracket that rolls up through a two-level BOM with
// forecasted demand, and a gasket with no BOM and no forecast.
func newERPFixture() *erpFixture {
	return &erpFixture{
		vendors: map[string]erp.Vendor{
			"V-100": {ID: "V-100", Name: "ACME Metals Inc.", Active: true},
		},
		parts: map[string]erp.Part{
			"RM-100":  {ID: "RM-100", Description: "Steel mounting bracket", StdCost: floatPtr(10.00), UOM: "EA"},
			"RM-200":  {ID: "RM-200", Description: "Rubber gasket seal", StdCost: floatPtr(2.00), UOM: "EA"},
			"ASM-200": {ID: "ASM-200", Description: "Drive housing assembly", StdCost: floatPtr(80.00), UOM: "EA"},
			"FG-300":  {ID: "FG-300", Description: "Conveyor drive unit", StdCost: floatPtr(310.00), UOM: "EA"},
		},
		links: map[string]erp.SupplierPartLink{
			linkKey("V-100", "RM-100"): {VendorID: "V-100", PartID: "RM-100", CurrentPrice: floatPtr(10.00), Currency: "USD", LeadTimeDays: 14},
			linkKey("V-100", "RM-200"): {VendorID: "V-100", PartID: "RM-200", CurrentPrice: floatPtr(2.00), Currency: "USD", LeadTimeDays: 21},
		},
		parents: map[string][]erp.BOMParent{
			"RM-100": {
				{ParentID: "ASM-200", ParentName: "Drive housing assembly", QtyPer: 2, StdCost: floatPtr(80.00)},
			},
			"ASM-200": {
				{ParentID: "FG-300", ParentName: "Conveyor drive unit", QtyPer: 1, SalePrice: floatPtr(450.00)},
			},
		},
		forecasts: map[string]erp.Forecast{
			"RM-100": {PartID: "RM-100", WeeklyDemand: floatPtr(50)},
			"FG-300": {PartID: "FG-300", WeeklyDemand: floatPtr(10)},
		},
		contacts: []erp.VendorContact{
			{VendorID: "V-100", VendorName: "ACME Metals Inc.", Email: "sales@acme-metals.example"},
			{VendorID: "V-100", VendorName: "ACME Metals Inc.", Email: "accounts@acme-metals.example"},
		},
	}
}

func (f *erpFixture) setVendorOutage(down bool) {
	f.mu.Lock()
	f.vendorOutage = down
	f.mu.Unlock()
}

// erpRoutes serves the subset of the ERP REST API the agent calls
func erpRoutes(f *erpFixture) http.Handler {
	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/vendors/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.vendorOutage {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		vendor, ok := f.vendors[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, vendor)
	})

	mux.HandleFunc("GET /api/vendors/{vendor_id}/parts/{part_id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		link, ok := f.links[linkKey(r.PathValue("vendor_id"), r.PathValue("part_id"))]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, link)
	})

	mux.HandleFunc("GET /api/parts/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		part, ok := f.parts[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, part)
	})

	mux.HandleFunc("GET /api/parts/{id}/where-used", func(w http.ResponseWriter, r *http.Request) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		parents, ok := f.parents[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, parents)
	})

	mux.HandleFunc("GET /api/parts/{id}/forecast", func(w http.ResponseWriter, r *http.Request) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		forecast, ok := f.forecasts[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, forecast)
	})

	mux.HandleFunc("GET /api/vendor-contacts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		writeJSON(w, f.contacts)
	})

	return mux
}

// ==================== Pipeline Stand-ins ====================

// keywordSemantic stands in for the language model classifier: price
// vocabulary in the subject or body is a positive verdict.
type keywordSemantic struct{}

func (keywordSemantic) Classify(_ context.Context, content classify.Content) (classify.Result, error) {
	text := strings.ToLower(content.Subject + " " + content.Body)
	if strings.Contains(text, "price") || strings.Contains(text, "surcharge") {
		return classify.Result{IsPriceChange: true, Confidence: 0.96, Reasoning: "price change vocabulary present"}, nil
	}
	return classify.Result{IsPriceChange: false, Confidence: 0.91, Reasoning: "no price change vocabulary"}, nil
}

// Scenario emails carry machine-readable lines so extraction stays
// deterministic without a language model:
//
//	ITEM: <part-id> <old-price> <new-price>
//	EFFECTIVE: <yyyy-mm-dd>
var (
	itemLine      = regexp.MustCompile(`(?m)^ITEM:\s+(\S+)\s+([0-9.]+)\s+([0-9.]+)\s*$`)
	effectiveLine = regexp.MustCompile(`(?m)^EFFECTIVE:\s+(\d{4}-\d{2}-\d{2})\s*$`)
)

// lineExtractor stands in for the language model extractor
type lineExtractor struct{}

func (lineExtractor) Extract(_ context.Context, content extract.Content) (*models.PriceChangeRecord, error) {
	record := &models.PriceChangeRecord{
		SupplierName:  content.SenderName,
		SupplierEmail: content.SenderEmail,
	}
	if m := effectiveLine.FindStringSubmatch(content.Body); m != nil {
		if ts, err := time.Parse("2006-01-02", m[1]); err == nil {
			record.EffectiveDate = &ts
		}
	}
	for i, m := range itemLine.FindAllStringSubmatch(content.Body, -1) {
		oldPrice, _ := strconv.ParseFloat(m[2], 64)
		newPrice, _ := strconv.ParseFloat(m[3], 64)
		record.Products = append(record.Products, models.ProductLineItem{
			Position:  i,
			ProductID: m[1],
			OldPrice:  &oldPrice,
			NewPrice:  &newPrice,
			Currency:  "USD",
		})
	}
	return record, nil
}

// scriptedFeed hands out queued batches so poll cycles are deterministic.
// It records every continuation token it was called with.
type scriptedFeed struct {
	mu      sync.Mutex
	batches []*mailfeed.Batch
	tokens  []string
}

func (f *scriptedFeed) push(batch *mailfeed.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
}

func (f *scriptedFeed) Fetch(_ context.Context, _ string, token *string, _ time.Duration) (*mailfeed.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := ""
	if token != nil {
		seen = *token
	}
	f.tokens = append(f.tokens, seen)
	if len(f.batches) == 0 {
		return &mailfeed.Batch{}, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *scriptedFeed) seenTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func (f *scriptedFeed) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = nil
	f.tokens = nil
}

// ==================== Suite ====================

// E2ETestSuite exercises the complete intake path: notices arrive over
// SMTP or the change feed, run the trust, classification, extraction and
// impact stages against a fake ERP, and surface through the REST handlers.
type E2ETestSuite struct {
	suite.Suite
	container testcontainers.Container
	db        *gorm.DB
	echo      *echo.Echo

	erpData   *erpFixture
	erpServer *httptest.Server
	feed      *scriptedFeed

	smtpServer  *gosmtp.Server
	smtpAddr    string
	fileStorage storage.FileStorage

	mailboxRepo repository.MailboxRepository
	messageRepo repository.MessageRepository
	impactRepo  repository.ImpactRepository

	coordinator ingest.Coordinator

	mailboxHandler    *handlers.MailboxHandler
	messageHandler    *handlers.MessageHandler
	reviewHandler     *handlers.ReviewHandler
	impactHandler     *handlers.ImpactHandler
	attachmentHandler *handlers.AttachmentHandler
	threadHandler     *handlers.ThreadHandler
}

// SetupSuite starts PostgreSQL, the fake ERP, the SMTP listener, and
// wires the same pipeline the service wires in production.
func (s *E2ETestSuite) SetupSuite() {
	ctx := context.Background()

	// Start PostgreSQL container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "emailagent_e2e_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T(), err)
	s.container = container

	// Get connection details
	host, err := container.Host(ctx)
	require.NoError(s.T(), err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(s.T(), err)

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=emailagent_e2e_test sslmode=disable",
		host, port.Port())

	// Connect to database
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(s.T(), err)
	s.db = db

	// Run migrations
	err = database.Migrate(db)
	require.NoError(s.T(), err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Attachment storage, repositories
	s.fileStorage, err = storage.NewLocalStorage(s.T().TempDir())
	require.NoError(s.T(), err)

	s.mailboxRepo = repository.NewMailboxRepository(db)
	cursorRepo := repository.NewSyncCursorRepository(db)
	s.messageRepo = repository.NewMessageRepository(db)
	recordRepo := repository.NewPriceChangeRepository(db)
	s.impactRepo = repository.NewImpactRepository(db)
	snapshotRepo := repository.NewTrustSnapshotRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db, s.fileStorage)

	// Fake ERP behind the real REST client
	s.erpData = newERPFixture()
	s.erpServer = httptest.NewServer(erpRoutes(s.erpData))
	erpClient := erp.NewClient(erp.Config{
		BaseURL:    s.erpServer.URL,
		APIKey:     "e2e-test-key",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	}, log)

	// Real pipeline stages, with deterministic stand-ins for the two
	// language model calls
	trustCache := trust.NewCache(trust.Config{
		TTL:         time.Hour,
		DomainMatch: true,
	}, erpClient, snapshotRepo, log)
	gate := classify.NewGate(keywordSemantic{}, 0.6, log)
	threadSvc := thread.NewService(thread.Config{
		MessageRepo: s.messageRepo,
		RecordRepo:  recordRepo,
		Logger:      log,
	})
	impactSvc := impact.NewService(impact.Config{
		ERP:               erpClient,
		MessageRepo:       s.messageRepo,
		ImpactRepo:        s.impactRepo,
		Concurrency:       2,
		MaxBOMDepth:       6,
		AutoApproveMaxPct: 5.0,
		Logger:            log,
	})

	s.feed = &scriptedFeed{}
	s.coordinator = ingest.NewCoordinator(ingest.Config{
		Mailboxes: s.mailboxRepo,
		Cursors:   cursorRepo,
		Messages:  s.messageRepo,
		Records:   recordRepo,
		Feed:      s.feed,
		Trust:     trustCache,
		Gate:      gate,
		Extractor: lineExtractor{},
		Impact:    impactSvc,
		Threads:   threadSvc,
		Logger:    log,
	})

	// Handlers
	s.mailboxHandler = handlers.NewMailboxHandler(s.mailboxRepo, s.coordinator)
	s.messageHandler = handlers.NewMessageHandler(s.messageRepo, s.mailboxRepo, s.coordinator)
	s.reviewHandler = handlers.NewReviewHandler(s.messageRepo, s.coordinator)
	s.impactHandler = handlers.NewImpactHandler(s.impactRepo, s.messageRepo, impactSvc)
	s.attachmentHandler = handlers.NewAttachmentHandler(attachmentRepo, s.messageRepo, s.fileStorage)
	s.threadHandler = handlers.NewThreadHandler(threadSvc)

	// Setup Echo
	s.echo = echo.New()

	// Pick a free port for the SMTP listener
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(s.T(), err)
	s.smtpAddr = listener.Addr().String()
	listener.Close()

	backend := smtpingest.NewBackend(&smtpingest.BackendConfig{
		MailboxRepo:   s.mailboxRepo,
		MessageRepo:   s.messageRepo,
		FileStorage:   s.fileStorage,
		Coordinator:   s.coordinator,
		IntakeAddress: intakeAddress,
		Logger:        log,
	})
	s.smtpServer = smtpingest.NewSecureServer(backend, &smtpingest.ServerConfig{
		Addr:          s.smtpAddr,
		Domain:        "localhost",
		AllowInsecure: true,
	})

	go func() {
		s.smtpServer.ListenAndServe()
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)
}

// TearDownSuite stops all services
func (s *E2ETestSuite) TearDownSuite() {
	if s.smtpServer != nil {
		s.smtpServer.Close()
	}
	if s.erpServer != nil {
		s.erpServer.Close()
	}
	if s.container != nil {
		s.container.Terminate(context.Background())
	}
}

// SetupTest cleans up data before each test
func (s *E2ETestSuite) SetupTest() {
	s.db.Exec("TRUNCATE TABLE affected_assemblies, impact_results, product_line_items, price_change_records, attachments, messages, sync_cursors, mailboxes, trust_snapshots RESTART IDENTITY CASCADE")
	s.feed.reset()
	s.erpData.setVendorOutage(false)
}

// TestE2ETestSuite runs the test suite
func TestE2ETestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E test in short mode")
	}
	suite.Run(t, new(E2ETestSuite))
}

// ==================== Helpers ====================

func (s *E2ETestSuite) connectSMTP() (net.Conn, *bufio.Reader, error) {
	conn, err := net.DialTimeout("tcp", s.smtpAddr, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	reader := bufio.NewReader(conn)
	return conn, reader, nil
}

func (s *E2ETestSuite) readSMTPResponse(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *E2ETestSuite) sendSMTPCommand(conn net.Conn, cmd string) error {
	_, err := conn.Write([]byte(cmd + "\r\n"))
	return err
}

// deliverNotice runs one complete SMTP transaction to the intake address.
// Reading the final 250 guarantees the message row exists before return.
func (s *E2ETestSuite) deliverNotice(from, raw string) {
	conn, reader, err := s.connectSMTP()
	require.NoError(s.T(), err)
	defer conn.Close()

	_, err = s.readSMTPResponse(reader)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.sendSMTPCommand(conn, "EHLO client.example.com"))
	for {
		line, err := s.readSMTPResponse(reader)
		require.NoError(s.T(), err)
		if strings.HasPrefix(line, "250 ") || !strings.HasPrefix(line, "250") {
			break
		}
	}

	require.NoError(s.T(), s.sendSMTPCommand(conn, "MAIL FROM:<"+from+">"))
	reply, err := s.readSMTPResponse(reader)
	require.NoError(s.T(), err)
	require.True(s.T(), strings.HasPrefix(reply, "250"), reply)

	require.NoError(s.T(), s.sendSMTPCommand(conn, "RCPT TO:<"+intakeAddress+">"))
	reply, err = s.readSMTPResponse(reader)
	require.NoError(s.T(), err)
	require.True(s.T(), strings.HasPrefix(reply, "250"), reply)

	require.NoError(s.T(), s.sendSMTPCommand(conn, "DATA"))
	reply, err = s.readSMTPResponse(reader)
	require.NoError(s.T(), err)
	require.True(s.T(), strings.HasPrefix(reply, "354"), reply)

	_, err = conn.Write([]byte(raw + "\r\n.\r\n"))
	require.NoError(s.T(), err)
	reply, err = s.readSMTPResponse(reader)
	require.NoError(s.T(), err)
	require.True(s.T(), strings.HasPrefix(reply, "250"), reply)

	require.NoError(s.T(), s.sendSMTPCommand(conn, "QUIT"))
}

// latestIntakeMessage returns the newest message stored for the intake
// mailbox
func (s *E2ETestSuite) latestIntakeMessage() *models.Message {
	ctx := context.Background()
	mailbox, err := s.mailboxRepo.GetByAddress(ctx, intakeAddress)
	require.NoError(s.T(), err)
	items, _, err := s.messageRepo.ListByMailbox(ctx, mailbox.ID, 1, 0)
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), items)
	message, err := s.messageRepo.GetByID(ctx, items[0].ID)
	require.NoError(s.T(), err)
	return message
}

// waitForStatus polls until the message reaches the wanted status. The
// SMTP gateway hands messages to the pipeline on its own goroutine, so
// completion has to be observed rather than assumed.
func (s *E2ETestSuite) waitForStatus(messageID uint, want string) *models.Message {
	ctx := context.Background()
	deadline := time.Now().Add(10 * time.Second)
	for {
		message, err := s.messageRepo.GetByID(ctx, messageID)
		require.NoError(s.T(), err)
		if message.Status == want {
			return message
		}
		if message.Status == models.MessageStatusFailed && want != models.MessageStatusFailed {
			s.T().Fatalf("message %d failed while waiting for %q: %s", messageID, want, message.ProcessingError)
		}
		if time.Now().After(deadline) {
			s.T().Fatalf("message %d stuck in %q while waiting for %q", messageID, message.Status, want)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ==================== Trusted Sender Flow ====================

func (s *E2ETestSuite) TestE2E_TrustedSenderFullPipeline() {
	// Step 1: Deliver a price change notice from a known vendor contact
	raw := strings.Join([]string{
		"From: \"ACME Metals\" <sales@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Price increase notice for October",
		"Message-ID: <notice-100@acme-metals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello,",
		"",
		"Raw material costs force a price increase on the following item.",
		"",
		"ITEM: RM-100 10.00 11.50",
		"EFFECTIVE: 2026-10-01",
		"",
		"Regards,",
		"ACME Metals",
	}, "\r\n")
	s.deliverNotice("sales@acme-metals.example", raw)

	// Step 2: The pipeline runs unattended through analysis
	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusAnalyzed)

	assert.Equal(s.T(), models.TrustMatchExact, message.TrustMatch)
	assert.Equal(s.T(), "V-100", message.VendorID)
	assert.Equal(s.T(), "ACME Metals Inc.", message.VendorName)
	require.NotNil(s.T(), message.IsPriceChange)
	assert.True(s.T(), *message.IsPriceChange)
	assert.GreaterOrEqual(s.T(), message.Confidence, 0.6)

	// Step 3: The message detail carries the extracted record
	req := httptest.NewRequest(http.MethodGet, "/api/messages/"+fmt.Sprint(message.ID), nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err := s.messageHandler.Get(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var msgResp struct {
		Success bool           `json:"success"`
		Data    models.Message `json:"data"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &msgResp))
	require.NotNil(s.T(), msgResp.Data.Record)
	assert.Equal(s.T(), "sales@acme-metals.example", msgResp.Data.Record.SupplierEmail)
	require.NotNil(s.T(), msgResp.Data.Record.EffectiveDate)
	require.Len(s.T(), msgResp.Data.Record.Products, 1)
	assert.Equal(s.T(), "RM-100", msgResp.Data.Record.Products[0].ProductID)

	// Step 4: Impact results validate the part and roll up the BOM
	req = httptest.NewRequest(http.MethodGet, "/api/messages/"+fmt.Sprint(message.ID)+"/impacts", nil)
	rec = httptest.NewRecorder()
	c = s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err = s.impactHandler.ListByMessage(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var impactsResp struct {
		Success bool                  `json:"success"`
		Data    []models.ImpactResult `json:"data"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &impactsResp))
	require.Len(s.T(), impactsResp.Data, 1)

	result := impactsResp.Data[0]
	assert.Equal(s.T(), models.ImpactStatusSuccess, result.Status)
	require.NotNil(s.T(), result.PartExists)
	assert.True(s.T(), *result.PartExists)
	require.NotNil(s.T(), result.SupplierExists)
	assert.True(s.T(), *result.SupplierExists)
	require.NotNil(s.T(), result.LinkExists)
	assert.True(s.T(), *result.LinkExists)
	assert.True(s.T(), result.CanProceed)
	assert.Equal(s.T(), "Steel mounting bracket", result.ProductName)

	require.NotNil(s.T(), result.PriceDelta)
	assert.InDelta(s.T(), 1.50, *result.PriceDelta, 0.001)
	require.NotNil(s.T(), result.PriceDeltaPct)
	assert.InDelta(s.T(), 15.0, *result.PriceDeltaPct, 0.001)

	// Weekly 50 from the forecast, 2600 annualized, times the delta
	assert.Equal(s.T(), models.DemandSourceForecast, result.DemandSource)
	require.NotNil(s.T(), result.AnnualDemand)
	assert.InDelta(s.T(), 2600, *result.AnnualDemand, 0.001)
	require.NotNil(s.T(), result.AnnualCostImpact)
	assert.InDelta(s.T(), 3900, *result.AnnualCostImpact, 0.01)

	// Two BOM levels: the housing (3.75% of std cost) and the drive
	// unit (0.67% of sale price)
	require.Len(s.T(), result.Assemblies, 2)
	assert.Equal(s.T(), "ASM-200", result.Assemblies[0].AssemblyID)
	assert.Equal(s.T(), 1, result.Assemblies[0].Level)
	assert.InDelta(s.T(), 2, result.Assemblies[0].CumulativeQtyPer, 0.001)
	assert.Equal(s.T(), "RM-100 > ASM-200", result.Assemblies[0].Path)
	assert.Equal(s.T(), models.RiskTierHigh, result.Assemblies[0].RiskTier)
	assert.Equal(s.T(), "FG-300", result.Assemblies[1].AssemblyID)
	assert.Equal(s.T(), 2, result.Assemblies[1].Level)
	assert.Equal(s.T(), "RM-100 > ASM-200 > FG-300", result.Assemblies[1].Path)
	assert.Equal(s.T(), models.RiskTierMedium, result.Assemblies[1].RiskTier)

	// A 15% increase on a high-risk part never auto-approves
	assert.Equal(s.T(), models.RiskTierHigh, result.OverallRiskTier)
	assert.False(s.T(), result.CanAutoApprove)

	// Step 5: A buyer approves the result
	approveBody, _ := json.Marshal(map[string]interface{}{"approver": "buyer@ourco.example"})
	req = httptest.NewRequest(http.MethodPost, "/api/impacts/"+fmt.Sprint(result.ID)+"/approve", bytes.NewReader(approveBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(result.ID))

	err = s.impactHandler.Approve(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	approved, err := s.impactRepo.GetByID(context.Background(), result.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), approved.Approved)
	assert.Equal(s.T(), "buyer@ourco.example", approved.ApprovedBy)
	assert.NotNil(s.T(), approved.ApprovedAt)
}

// ==================== Review Queue Flow ====================

func (s *E2ETestSuite) TestE2E_UntrustedSenderReviewApproval() {
	// Step 1: A notice from an address the vendor directory does not know
	raw := strings.Join([]string{
		"From: \"Meridian Polymers\" <quotes@meridian-polymers.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Price adjustment for gasket seals",
		"Message-ID: <mp-2001@meridian-polymers.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Please note the price adjustment below.",
		"",
		"ITEM: RM-200 2.00 2.20",
		"",
		"Meridian Polymers",
	}, "\r\n")
	s.deliverNotice("quotes@meridian-polymers.example", raw)

	// Step 2: The message parks for human review instead of processing
	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusPendingReview)
	assert.Equal(s.T(), models.TrustMatchNone, message.TrustMatch)
	assert.Nil(s.T(), message.IsPriceChange)

	// Step 3: The review queue lists it
	req := httptest.NewRequest(http.MethodGet, "/api/reviews/pending", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	err := s.reviewHandler.ListPending(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var pendingResp struct {
		Success bool                     `json:"success"`
		Data    []models.MessageListItem `json:"data"`
		Meta    struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &pendingResp))
	assert.Equal(s.T(), int64(1), pendingResp.Meta.Total)
	require.Len(s.T(), pendingResp.Data, 1)
	assert.Equal(s.T(), message.ID, pendingResp.Data[0].ID)

	// Step 4: A reviewer approves; the pipeline resumes inside the request
	body, _ := json.Marshal(map[string]interface{}{"reviewer": "dana@ourco.example"})
	req = httptest.NewRequest(http.MethodPost, "/api/reviews/"+fmt.Sprint(message.ID)+"/approve", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = s.echo.NewContext(req, rec)
	c.SetParamNames("message_id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err = s.reviewHandler.Approve(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	// Step 5: Approval is recorded and analysis ran to completion. The
	// sender has no vendor identity, so the supplier gate records its
	// verdict instead of producing results.
	message, err = s.messageRepo.GetByID(context.Background(), message.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusAnalyzed, message.Status)
	assert.Equal(s.T(), "dana@ourco.example", message.ReviewedBy)
	assert.NotNil(s.T(), message.ReviewedAt)
	require.NotNil(s.T(), message.IsPriceChange)
	assert.True(s.T(), *message.IsPriceChange)
	assert.Contains(s.T(), message.ProcessingError, "vendor master")

	results, err := s.impactRepo.ListByMessage(context.Background(), message.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), results)
}

func (s *E2ETestSuite) TestE2E_RejectedNoticeStaysParked() {
	// Step 1: An untrusted sender lands in the review queue
	raw := strings.Join([]string{
		"From: <offers@bulk-deals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Unbeatable prices this week only",
		"Message-ID: <bd-1@bulk-deals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Special price list attached. Act now.",
	}, "\r\n")
	s.deliverNotice("offers@bulk-deals.example", raw)

	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusPendingReview)

	// Step 2: The reviewer rejects it
	body, _ := json.Marshal(map[string]interface{}{"reviewer": "dana@ourco.example"})
	req := httptest.NewRequest(http.MethodPost, "/api/reviews/"+fmt.Sprint(message.ID)+"/reject", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("message_id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err := s.reviewHandler.Reject(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	// Step 3: The message is rejected, never classified, and gone from
	// the queue
	message, err = s.messageRepo.GetByID(context.Background(), message.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusRejected, message.Status)
	assert.Equal(s.T(), "dana@ourco.example", message.ReviewedBy)
	assert.Nil(s.T(), message.IsPriceChange)

	_, total, err := s.messageRepo.ListPendingReview(context.Background(), 20, 0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(0), total)
}

// ==================== Classification Gate ====================

func (s *E2ETestSuite) TestE2E_NonPriceEmailIgnored() {
	// Step 1: A trusted contact writes about something else entirely
	raw := strings.Join([]string{
		"From: \"ACME Metals\" <sales@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Holiday shutdown dates",
		"Message-ID: <notice-101@acme-metals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Our plant closes December 23rd through January 2nd.",
		"Orders placed after December 15th ship in January.",
	}, "\r\n")
	s.deliverNotice("sales@acme-metals.example", raw)

	// Step 2: Trust passes, classification says no, the message is shelved
	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusIgnored)
	assert.Equal(s.T(), models.TrustMatchExact, message.TrustMatch)
	require.NotNil(s.T(), message.IsPriceChange)
	assert.False(s.T(), *message.IsPriceChange)
	assert.Nil(s.T(), message.Record)

	// Step 3: Nothing reaches the review queue or impact analysis
	_, total, err := s.messageRepo.ListPendingReview(context.Background(), 20, 0)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(0), total)

	results, err := s.impactRepo.ListByMessage(context.Background(), message.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), results)
}

// ==================== Conversation Aggregation ====================

func (s *E2ETestSuite) TestE2E_CorrectionThreadReanalysis() {
	// Step 1: The original notice announces 11.50
	first := strings.Join([]string{
		"From: \"ACME Metals\" <sales@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Price increase for drive components",
		"Message-ID: <notice-110@acme-metals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Effective October 1st the bracket price changes.",
		"",
		"ITEM: RM-100 10.00 11.50",
		"EFFECTIVE: 2026-10-01",
	}, "\r\n")
	s.deliverNotice("sales@acme-metals.example", first)

	firstMessage := s.latestIntakeMessage()
	firstMessage = s.waitForStatus(firstMessage.ID, models.MessageStatusAnalyzed)
	require.NotEmpty(s.T(), firstMessage.ConversationID)

	// Step 2: A correction follows on the same subject line
	correction := strings.Join([]string{
		"From: \"ACME Metals\" <sales@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: RE: Price increase for drive components",
		"Message-ID: <notice-111@acme-metals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Correction to our earlier notice, the new price is 11.25.",
		"",
		"ITEM: RM-100 10.00 11.25",
		"EFFECTIVE: 2026-10-01",
	}, "\r\n")
	s.deliverNotice("sales@acme-metals.example", correction)

	secondMessage := s.latestIntakeMessage()
	require.NotEqual(s.T(), firstMessage.ID, secondMessage.ID)
	secondMessage = s.waitForStatus(secondMessage.ID, models.MessageStatusAnalyzed)
	assert.Equal(s.T(), firstMessage.ConversationID, secondMessage.ConversationID)

	// Step 3: The correction's analysis used the merged thread state
	results, err := s.impactRepo.ListByMessage(context.Background(), secondMessage.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	require.NotNil(s.T(), results[0].NewPrice)
	assert.InDelta(s.T(), 11.25, *results[0].NewPrice, 0.001)
	require.NotNil(s.T(), results[0].PriceDeltaPct)
	assert.InDelta(s.T(), 12.5, *results[0].PriceDeltaPct, 0.001)

	// Step 4: The conversation view folds both notices into one state
	req := httptest.NewRequest(http.MethodGet, "/api/threads/"+firstMessage.ConversationID, nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues(firstMessage.ConversationID)

	err = s.threadHandler.Get(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var threadResp struct {
		Success bool        `json:"success"`
		Data    thread.View `json:"data"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &threadResp))
	view := threadResp.Data
	assert.Equal(s.T(), 2, view.MessageCount)
	assert.Equal(s.T(), 2, view.RecordCount)
	assert.Equal(s.T(), "Price increase for drive components", view.Subject)
	require.Len(s.T(), view.Products, 1)
	assert.Equal(s.T(), "RM-100", view.Products[0].ProductID)
	require.NotNil(s.T(), view.Products[0].NewPrice)
	assert.InDelta(s.T(), 11.25, *view.Products[0].NewPrice, 0.001)
	assert.Equal(s.T(), secondMessage.ID, view.Products[0].Source.SourceMessageID)
}

// ==================== Manual Re-analysis ====================

func (s *E2ETestSuite) TestE2E_ManualReanalysisWithDemandOverride() {
	// Step 1: A notice for a part the ERP has no forecast for
	raw := strings.Join([]string{
		"From: \"ACME Metals\" <accounts@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Price adjustment on gasket seals",
		"Message-ID: <notice-120@acme-metals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"The gasket seal price changes as follows.",
		"",
		"ITEM: RM-200 2.00 2.50",
	}, "\r\n")
	s.deliverNotice("accounts@acme-metals.example", raw)

	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusAnalyzed)

	// Step 2: Without demand data the result is a warning with no
	// annualized figure
	results, err := s.impactRepo.ListByMessage(context.Background(), message.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.Equal(s.T(), models.ImpactStatusWarning, results[0].Status)
	assert.Equal(s.T(), models.DemandSourceNone, results[0].DemandSource)
	assert.Nil(s.T(), results[0].AnnualCostImpact)

	// Step 3: A buyer re-runs analysis with their own weekly demand
	body, _ := json.Marshal(map[string]interface{}{"weekly_demand": 25})
	req := httptest.NewRequest(http.MethodPost, "/api/messages/"+fmt.Sprint(message.ID)+"/analyze", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err = s.impactHandler.Analyze(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	// Step 4: The replacement results price the change with the override
	results, err = s.impactRepo.ListByMessage(context.Background(), message.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.Equal(s.T(), models.DemandSourceOverride, results[0].DemandSource)
	require.NotNil(s.T(), results[0].WeeklyDemand)
	assert.InDelta(s.T(), 25, *results[0].WeeklyDemand, 0.001)
	require.NotNil(s.T(), results[0].AnnualDemand)
	assert.InDelta(s.T(), 1300, *results[0].AnnualDemand, 0.001)
	require.NotNil(s.T(), results[0].AnnualCostImpact)
	assert.InDelta(s.T(), 650, *results[0].AnnualCostImpact, 0.01)

	message, err = s.messageRepo.GetByID(context.Background(), message.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusAnalyzed, message.Status)
}

// ==================== Attachments ====================

func (s *E2ETestSuite) TestE2E_AttachmentStoredAndDownloadable() {
	// Step 1: A notice with the formal price list attached
	raw := strings.Join([]string{
		"From: \"ACME Metals\" <sales@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Price increase with attached schedule",
		"Message-ID: <notice-130@acme-metals.example>",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=\"XYZBOUNDARY\"",
		"",
		"--XYZBOUNDARY",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"The full price schedule is attached.",
		"",
		"ITEM: RM-100 10.00 11.50",
		"",
		"--XYZBOUNDARY",
		"Content-Type: application/pdf; name=\"schedule.pdf\"",
		"Content-Disposition: attachment; filename=\"schedule.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQKJSBkdW1teQ==",
		"--XYZBOUNDARY--",
	}, "\r\n")
	s.deliverNotice("sales@acme-metals.example", raw)

	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusAnalyzed)
	assert.True(s.T(), message.HasAttachments)

	// Step 2: The attachment is listed for the message
	req := httptest.NewRequest(http.MethodGet, "/api/messages/"+fmt.Sprint(message.ID)+"/attachments", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("message_id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err := s.attachmentHandler.List(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var listResp struct {
		Success bool                `json:"success"`
		Data    []models.Attachment `json:"data"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(s.T(), listResp.Data, 1)
	assert.Equal(s.T(), "schedule.pdf", listResp.Data[0].Filename)

	// Step 3: The stored bytes stream back out
	req = httptest.NewRequest(http.MethodGet, "/api/attachments/"+fmt.Sprint(listResp.Data[0].ID)+"/download", nil)
	rec = httptest.NewRecorder()
	c = s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(listResp.Data[0].ID))

	err = s.attachmentHandler.Download(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
	assert.Contains(s.T(), rec.Header().Get(echo.HeaderContentDisposition), "schedule.pdf")
	assert.True(s.T(), strings.HasPrefix(rec.Body.String(), "%PDF"))
}

// ==================== Feed Polling ====================

func (s *E2ETestSuite) TestE2E_FeedPollPipeline() {
	ctx := context.Background()

	// Step 1: Register the monitored mailbox via the API
	createBody, _ := json.Marshal(map[string]interface{}{
		"address":      "procurement@ourco.example",
		"display_name": "Procurement Inbox",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/mailboxes", bytes.NewReader(createBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	err := s.mailboxHandler.Create(c)
	require.NoError(s.T(), err)
	require.Equal(s.T(), http.StatusCreated, rec.Code)

	mailbox, err := s.mailboxRepo.GetByAddress(ctx, "procurement@ourco.example")
	require.NoError(s.T(), err)

	// Step 2: The feed holds a price change, a newsletter from a
	// stranger, and one of our own replies
	sentAt := time.Now().Add(-time.Hour)
	s.feed.push(&mailfeed.Batch{
		Messages: []mailfeed.RemoteMessage{
			{
				ProviderMessageID: "pm-1001",
				ConversationID:    "conv-q4-pricing",
				SenderEmail:       "sales@acme-metals.example",
				SenderName:        "ACME Metals",
				Subject:           "Updated pricing for Q4",
				BodyText:          "Our updated price takes effect next quarter.\n\nITEM: RM-100 10.00 10.40\n",
				SentAt:            &sentAt,
				ReceivedAt:        time.Now().Add(-time.Hour),
			},
			{
				ProviderMessageID: "pm-1002",
				SenderEmail:       "press@industry-news.example",
				SenderName:        "Industry News",
				Subject:           "Monthly newsletter",
				BodyText:          "Market developments this month.",
				ReceivedAt:        time.Now().Add(-30 * time.Minute),
			},
			{
				ProviderMessageID: "pm-1003",
				ConversationID:    "conv-q4-pricing",
				SenderEmail:       "procurement@ourco.example",
				Subject:           "RE: Updated pricing for Q4",
				BodyText:          "Thanks, reviewing on our side.",
				ReceivedAt:        time.Now().Add(-10 * time.Minute),
				IsOutgoing:        true,
				IsReply:           true,
			},
		},
		NextToken: "delta-1",
	})

	// Step 3: Sync runs the whole batch through the pipeline
	req = httptest.NewRequest(http.MethodPost, "/api/mailboxes/"+fmt.Sprint(mailbox.ID)+"/sync", nil)
	rec = httptest.NewRecorder()
	c = s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(mailbox.ID))

	err = s.mailboxHandler.Sync(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	var syncResp struct {
		Success bool             `json:"success"`
		Data    ingest.PollStats `json:"data"`
	}
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &syncResp))
	assert.Equal(s.T(), 3, syncResp.Data.Fetched)
	assert.Equal(s.T(), 3, syncResp.Data.Ingested)
	assert.Equal(s.T(), 0, syncResp.Data.Duplicates)
	assert.Equal(s.T(), 0, syncResp.Data.Failed)

	// Step 4: Each message landed where the pipeline routes it
	notice, err := s.messageRepo.GetByProviderID(ctx, mailbox.ID, "pm-1001")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusAnalyzed, notice.Status)
	assert.Equal(s.T(), models.TrustMatchExact, notice.TrustMatch)

	newsletter, err := s.messageRepo.GetByProviderID(ctx, mailbox.ID, "pm-1002")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusPendingReview, newsletter.Status)

	reply, err := s.messageRepo.GetByProviderID(ctx, mailbox.ID, "pm-1003")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusIgnored, reply.Status)
	assert.Nil(s.T(), reply.IsPriceChange)

	// Step 5: A 4% change on a medium-risk part qualifies for
	// auto-approval
	results, err := s.impactRepo.ListByMessage(ctx, notice.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.Equal(s.T(), models.ImpactStatusSuccess, results[0].Status)
	require.NotNil(s.T(), results[0].PriceDeltaPct)
	assert.InDelta(s.T(), 4.0, *results[0].PriceDeltaPct, 0.001)
	assert.Equal(s.T(), models.RiskTierMedium, results[0].OverallRiskTier)
	assert.True(s.T(), results[0].CanAutoApprove)

	// Step 6: Re-delivery of the same batch deduplicates, and the
	// second fetch resumed from the advanced token
	s.feed.push(&mailfeed.Batch{
		Messages: []mailfeed.RemoteMessage{
			{
				ProviderMessageID: "pm-1001",
				ConversationID:    "conv-q4-pricing",
				SenderEmail:       "sales@acme-metals.example",
				Subject:           "Updated pricing for Q4",
				BodyText:          "Our updated price takes effect next quarter.\n\nITEM: RM-100 10.00 10.40\n",
				ReceivedAt:        time.Now().Add(-time.Hour),
			},
		},
		NextToken: "delta-2",
	})

	req = httptest.NewRequest(http.MethodPost, "/api/mailboxes/"+fmt.Sprint(mailbox.ID)+"/sync", nil)
	rec = httptest.NewRecorder()
	c = s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(mailbox.ID))

	err = s.mailboxHandler.Sync(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &syncResp))
	assert.Equal(s.T(), 1, syncResp.Data.Fetched)
	assert.Equal(s.T(), 0, syncResp.Data.Ingested)
	assert.Equal(s.T(), 1, syncResp.Data.Duplicates)

	assert.Equal(s.T(), []string{"", "delta-1"}, s.feed.seenTokens())
}

// ==================== Failure Recovery ====================

func (s *E2ETestSuite) TestE2E_TransientERPOutageThenReprocess() {
	// Step 1: The ERP vendor endpoint is down when the notice arrives
	s.erpData.setVendorOutage(true)

	raw := strings.Join([]string{
		"From: \"ACME Metals\" <sales@acme-metals.example>",
		"To: <" + intakeAddress + ">",
		"Subject: Price increase on brackets",
		"Message-ID: <notice-140@acme-metals.example>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Bracket prices change next month.",
		"",
		"ITEM: RM-100 10.00 10.80",
	}, "\r\n")
	s.deliverNotice("sales@acme-metals.example", raw)

	// Step 2: Analysis fails on the supplier lookup; the record survives
	message := s.latestIntakeMessage()
	message = s.waitForStatus(message.ID, models.MessageStatusFailed)
	assert.Contains(s.T(), message.ProcessingError, "supplier lookup")
	require.NotNil(s.T(), message.Record)
	require.Len(s.T(), message.Record.Products, 1)

	// Step 3: The ERP recovers and an operator reprocesses the message
	s.erpData.setVendorOutage(false)

	req := httptest.NewRequest(http.MethodPost, "/api/messages/"+fmt.Sprint(message.ID)+"/process", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(message.ID))

	err := s.messageHandler.Reprocess(c)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), http.StatusOK, rec.Code)

	// Step 4: The rerun completes and produces results
	message, err = s.messageRepo.GetByID(context.Background(), message.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.MessageStatusAnalyzed, message.Status)

	results, err := s.impactRepo.ListByMessage(context.Background(), message.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.Equal(s.T(), models.ImpactStatusSuccess, results[0].Status)
}
