// Command governanceagg is the single binary for the governance data
// aggregation platform: it loads configuration, opens the database, and
// spawns the indexer scheduler, proposal/topic mapper, and job queue
// processor as goroutines until signalled to shut down. Grounded on
// oracle-attesterd's dial/migrate/spawn/signal.NotifyContext bootstrap
// sequence, now driving this domain's own set of background loops instead
// of a single EVM confirmation watcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"governanceagg/adapters"
	"governanceagg/adapters/discourse"
	"governanceagg/adapters/onchain"
	"governanceagg/adapters/snapshot"
	"governanceagg/chainrpc"
	"governanceagg/config"
	"governanceagg/diagnostics"
	"governanceagg/jobqueue"
	"governanceagg/mapper"
	"governanceagg/observability/logging"
	"governanceagg/observability/otel"
	"governanceagg/persist"
	"governanceagg/scheduler"
	"governanceagg/store"
)

const serviceName = "governanceagg"

// optimismToken is the OP governance token, read for totalSupply when an
// optimistic proposal's against-threshold is absolute.
var optimismToken = common.HexToAddress("0x4200000000000000000000000000000000000042")

// optimismModules maps the deployed Optimism voting module contracts to
// their ballot shape.
var optimismModules = map[common.Address]onchain.ModuleKind{
	common.HexToAddress("0xdd0229D72a414DC821DEc66f3Cc4eF6dB2C7b7df"): onchain.ModuleApproval,
	common.HexToAddress("0x27964c5f4F389B8399036e1076d84c6984576C33"): onchain.ModuleOptimistic,
}

func main() {
	if err := run(); err != nil {
		slog.Error("governanceagg exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.Setup(serviceName, cfg.Env)

	otelShutdown, err := otel.Init(context.Background(), otel.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
		Headers:     cfg.OTel.Headers,
		Traces:      cfg.OTel.Traces,
		Metrics:     cfg.OTel.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(8 * time.Second)
	sqlDB.SetConnMaxLifetime(8 * time.Second)

	if err := store.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	chains, err := dialChains(cfg)
	if err != nil {
		return fmt.Errorf("dial chains: %w", err)
	}

	snapshotClient := snapshot.NewClient(cfg.SnapshotHubURL, 60)
	snapshotAdapter := snapshot.NewAdapter(snapshotClient, cfg.SnapshotSpaces)
	snapshotSweeper := snapshot.NewSweeper(db, snapshotAdapter, log)

	adapterFor := func(governor *store.Governor) (adapters.ProposalsAndVotesIndexer, error) {
		if governor.Variant == store.VariantSnapshot {
			return snapshotAdapter, nil
		}
		chain, ok := chains[governor.Chain]
		if !ok {
			return nil, fmt.Errorf("no chain RPC configured for %q", governor.Chain)
		}
		portalURL := func(externalID string) string {
			return governor.PortalURL + "/" + externalID
		}
		switch governor.Variant {
		case store.VariantOptimismCore:
			contract := onchain.NewContract(chain, common.HexToAddress(governor.Address))
			return onchain.NewOptimismAdapter(chain, contract, optimismToken, optimismModules, portalURL), nil
		case store.VariantMakerPollMain, store.VariantMakerPollArb:
			return onchain.NewMakerPollAdapter(governor.Variant, chain, common.HexToAddress(governor.Address), portalURL), nil
		default:
			contract := onchain.NewContract(chain, common.HexToAddress(governor.Address))
			return onchain.NewGovernorAdapter(governor.Variant, chain, contract, portalURL), nil
		}
	}

	sched := scheduler.New(db, adapterFor, log, cfg.SchedulerBaseTick)

	embedder := mapper.NewHTTPEmbedder(cfg.EmbeddingServiceURL, cfg.EmbeddingModelVersion)
	proposalMapper := mapper.New(db, embedder, cfg.SemanticSimilarityThreshold)

	jobStore := persist.NewStore(db)
	jobProcessor := jobqueue.New(jobStore, store.JobTypeDiscussionFetch, discussionJobHandler(db), log, 10*time.Second)
	followupProcessor := jobqueue.New(jobStore, store.JobTypeProposalFollowup, proposalFollowupHandler(db), log, 10*time.Second)

	router := buildRouter()
	httpServer := &http.Server{Addr: cfg.HTTPHealthAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("health endpoint listening", "addr", cfg.HTTPHealthAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health endpoint failed", "error", err)
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			log.Error("scheduler exited", "error", err)
		}
	}()

	go jobProcessor.Run(ctx)
	go followupProcessor.Run(ctx)

	go runMapperLoop(ctx, proposalMapper, db, log)
	go runSweeperLoop(ctx, snapshotSweeper, db, log)
	go runDiscourseLoop(ctx, db, log)
	go runDiagnosticsLoop(ctx, db, log, cfg.DiagnosticsOutputDir, cfg.DiagnosticsInterval, cfg.DiagnosticsStallThreshold)

	<-ctx.Done()
	log.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SchedulerGracePeriod)
	defer cancel()

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn("grace period elapsed before the scheduler drained")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("health endpoint shutdown error", "error", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown error", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

// dialChains opens an ethclient connection for every chain named in the
// config's environment-derived node URL table.
func dialChains(cfg *config.Config) (map[string]*chainrpc.Chain, error) {
	chains := make(map[string]*chainrpc.Chain, len(cfg.Chains))
	for name, rpc := range cfg.Chains {
		chain, err := chainrpc.DialChain(name, rpc.NodeURL, rpc.AvgBlockTime, 10, 20)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", name, err)
		}
		chains[name] = chain
	}
	return chains, nil
}

// buildRouter mounts the unauthenticated health and Prometheus metrics
// endpoints using the same chi-based router conventions as the rest of
// the fleet's gateway services.
func buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(otelhttp.NewMiddleware(serviceName))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// runMapperLoop runs the proposal/topic mapper over every DAO on a fixed
// cadence until ctx is canceled.
func runMapperLoop(ctx context.Context, m *mapper.Mapper, db *gorm.DB, log *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var daos []store.DAO
			if err := db.WithContext(ctx).Find(&daos).Error; err != nil {
				log.Error("mapper: list daos failed", "error", err)
				continue
			}
			for _, dao := range daos {
				if err := m.Run(ctx, dao.Slug); err != nil {
					log.Error("mapper run failed", "dao", dao.Slug, "error", err)
				}
			}
		}
	}
}

// runSweeperLoop periodically rescans shutter-privacy Snapshot proposals
// whose voting period ended recently, retrying the reveal of hidden votes.
func runSweeperLoop(ctx context.Context, sweeper *snapshot.Sweeper, db *gorm.DB, log *slog.Logger) {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var governors []store.Governor
			if err := db.WithContext(ctx).Where("variant = ? AND enabled = ?", store.VariantSnapshot, true).Find(&governors).Error; err != nil {
				log.Error("sweeper: list snapshot governors failed", "error", err)
				continue
			}
			for i := range governors {
				if err := sweeper.Sweep(ctx, &governors[i]); err != nil {
					log.Error("sweeper run failed", "governor", governors[i].ID.String(), "error", err)
				}
			}
		}
	}
}

// runDiscourseLoop re-crawls every configured forum's governance category on
// a fixed cadence, independent of any single proposal's discussion_url,
// so newly posted topics surface for URL and semantic matching even when
// no discussion job has been enqueued for them yet.
func runDiscourseLoop(ctx context.Context, db *gorm.DB, log *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var forums []store.Forum
			if err := db.WithContext(ctx).Find(&forums).Error; err != nil {
				log.Error("discourse: list forums failed", "error", err)
				continue
			}
			for i := range forums {
				if forums[i].CategorySlug == "" {
					continue
				}
				crawler := discourse.NewCrawler(db, &forums[i], forums[i].CategorySlug, 60)
				if err := crawler.Crawl(ctx); err != nil {
					log.Error("discourse: crawl failed", "forum", forums[i].Name, "error", err)
				}
			}
		}
	}
}

// runDiagnosticsLoop periodically exports the C7 stalled-governor report
// (CSV+Parquet) for every governor whose speed has decayed to its floor
// with no cursor progress, the "stalled" signal spec.md §7 describes
// downstream dashboards surfacing.
func runDiagnosticsLoop(ctx context.Context, db *gorm.DB, log *slog.Logger, outputDir string, interval, stallThreshold time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := diagnostics.Export(ctx, db, outputDir, stallThreshold)
			if err != nil {
				log.Error("diagnostics: stalled-governor export failed", "error", err)
				continue
			}
			if report == nil {
				continue
			}
			log.Info("diagnostics: wrote stalled-governor report", "rows", len(report.Rows), "csv", report.CSVPath, "parquet", report.ParquetPath)
		}
	}
}

// discussionJobHandler dispatches a queued "discussion" job to the
// Discourse adapter: the job's topic_id names an already-stored topic, and
// the crawler re-crawls that topic's category on its forum.
func discussionJobHandler(db *gorm.DB) jobqueue.Handler {
	return func(ctx context.Context, job *store.JobQueue) error {
		topicIDRaw, ok := job.Payload["topic_id"]
		if !ok {
			return fmt.Errorf("discussion job missing topic_id")
		}
		topicID, ok := topicIDRaw.(string)
		if !ok {
			return fmt.Errorf("discussion job topic_id is not a string")
		}

		var topic store.Topic
		if err := db.WithContext(ctx).Where("id = ?", topicID).First(&topic).Error; err != nil {
			return fmt.Errorf("load topic %s: %w", topicID, err)
		}
		var forum store.Forum
		if err := db.WithContext(ctx).Where("id = ?", topic.ForumID).First(&forum).Error; err != nil {
			return fmt.Errorf("load forum for topic %s: %w", topicID, err)
		}

		crawler := discourse.NewCrawler(db, &forum, strconv.FormatInt(topic.CategoryID, 10), 60)
		return crawler.Crawl(ctx)
	}
}

// proposalFollowupHandler dispatches a queued "proposal_followup" job,
// enqueued when a new Snapshot proposal arrives with a discussion_url: the
// DAO's forum is crawled so the linked topic (and its posts) are available
// for the proposal/topic mapper's URL pass.
func proposalFollowupHandler(db *gorm.DB) jobqueue.Handler {
	return func(ctx context.Context, job *store.JobQueue) error {
		proposalIDRaw, ok := job.Payload["proposal_id"]
		if !ok {
			return fmt.Errorf("proposal follow-up job missing proposal_id")
		}
		proposalID, ok := proposalIDRaw.(string)
		if !ok {
			return fmt.Errorf("proposal follow-up job proposal_id is not a string")
		}

		var proposal store.Proposal
		if err := db.WithContext(ctx).Where("id = ?", proposalID).First(&proposal).Error; err != nil {
			return fmt.Errorf("load proposal %s: %w", proposalID, err)
		}
		if proposal.DiscussionURL == nil {
			return nil
		}

		var forum store.Forum
		if err := db.WithContext(ctx).Where("dao_id = ?", proposal.DAOID).First(&forum).Error; err != nil {
			return fmt.Errorf("load forum for proposal %s: %w", proposalID, err)
		}
		if !strings.HasPrefix(*proposal.DiscussionURL, forum.BaseURL) {
			// The discussion lives somewhere other than the DAO's own forum;
			// nothing for the crawler to pick up.
			return nil
		}
		if forum.CategorySlug == "" {
			return nil
		}

		crawler := discourse.NewCrawler(db, &forum, forum.CategorySlug, 60)
		return crawler.Crawl(ctx)
	}
}
