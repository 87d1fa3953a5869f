package di

import (
	"context"

	"go.uber.org/zap"

	"datalens/application/assistant"
	"datalens/application/graphcache"
	"datalens/application/ports"
	"datalens/domain/catalog"
	"datalens/domain/graph"
	"datalens/infrastructure/config"
	"datalens/infrastructure/llm"
	"datalens/infrastructure/persistence"
	"datalens/infrastructure/persistence/columnar"
	"datalens/infrastructure/persistence/memory"
	"datalens/infrastructure/persistence/sqlite"
	"datalens/infrastructure/semantic"
	"datalens/pkg/extensions"
	"datalens/pkg/observability"
)

// Platform-private capability names. The underscore prefix keeps them out of
// module descriptor reach, same as ports.CapConfig.
const (
	// CapStore is the shared embedded database handle behind the primary
	// repository, schema source, graph store and persistent conversations.
	CapStore = "_platform.store"

	// CapAssistant is the conversational orchestrator the HTTP layer serves.
	CapAssistant = "_platform.assistant"
)

// BindPlatform installs every platform capability into the container.
// Bootstrap calls it once, then Seal and InitEager; the embedded store and
// the repositories bind eagerly so a bad database path or malformed remote
// options abort startup rather than the first request.
func BindPlatform(c *Container, cfg *config.Config, logger *zap.Logger, metrics *observability.Collector, hooks *extensions.HookManager) error {
	binds := []struct {
		name    string
		factory Factory
		opts    []BindOption
	}{
		{ports.CapConfig, func(context.Context, *Container) (interface{}, error) {
			return cfg, nil
		}, []BindOption{AsSingleton()}},

		{ports.CapLogger, func(context.Context, *Container) (interface{}, error) {
			return logger, nil
		}, []BindOption{AsSingleton()}},

		{ports.CapHooks, func(context.Context, *Container) (interface{}, error) {
			return hooks, nil
		}, []BindOption{AsSingleton()}},

		{CapStore, func(context.Context, *Container) (interface{}, error) {
			return sqlite.NewStore(cfg.DBPath, logger)
		}, []BindOption{AsSingleton(), WithEagerInit()}},

		{ports.CapRepositoryPrimary, func(ctx context.Context, c *Container) (interface{}, error) {
			store, err := ResolveAs[*sqlite.Store](ctx, c, CapStore)
			if err != nil {
				return nil, err
			}
			return sqlite.NewRepository(store, cfg.QueryTimeout, metrics, logger), nil
		}, []BindOption{AsSingleton(), WithEagerInit()}},

		{ports.CapSchemaSource, func(ctx context.Context, c *Container) (interface{}, error) {
			store, err := ResolveAs[*sqlite.Store](ctx, c, CapStore)
			if err != nil {
				return nil, err
			}
			return sqlite.NewSchemaSource(store), nil
		}, []BindOption{AsSingleton()}},

		{ports.CapGraphStore, func(ctx context.Context, c *Container) (interface{}, error) {
			store, err := ResolveAs[*sqlite.Store](ctx, c, CapStore)
			if err != nil {
				return nil, err
			}
			return sqlite.NewGraphStore(store, cfg.GraphPersistTimeout), nil
		}, []BindOption{AsSingleton()}},

		{ports.CapGraphCache, func(ctx context.Context, c *Container) (interface{}, error) {
			store, err := ResolveAs[ports.GraphStore](ctx, c, ports.CapGraphStore)
			if err != nil {
				return nil, err
			}
			source, err := ResolveAs[ports.SchemaSource](ctx, c, ports.CapSchemaSource)
			if err != nil {
				return nil, err
			}
			repo, err := explorationRepository(ctx, c, cfg)
			if err != nil {
				return nil, err
			}
			builders := map[graph.Kind]graphcache.Builder{
				graph.KindSchema: graphcache.NewSchemaBuilder(source),
				graph.KindData:   graphcache.NewDataBuilder(repo, source, 0),
			}
			return graphcache.NewEngine(store, builders, hooks, metrics, logger), nil
		}, []BindOption{AsSingleton()}},

		{ports.CapConversationStore, func(ctx context.Context, c *Container) (interface{}, error) {
			if !cfg.ConversationPersistent {
				return memory.NewConversationStore(cfg.ConversationTTL), nil
			}
			store, err := ResolveAs[*sqlite.Store](ctx, c, CapStore)
			if err != nil {
				return nil, err
			}
			return sqlite.NewConversationStore(store, cfg.ConversationTTL), nil
		}, []BindOption{AsSingleton()}},

		{ports.CapSemanticResolver, func(context.Context, *Container) (interface{}, error) {
			return semantic.NewStaticResolver(semantic.DefaultGlossary()), nil
		}, []BindOption{AsSingleton()}},

		{ports.CapLLMProvider, func(context.Context, *Container) (interface{}, error) {
			if !cfg.LLMEnabled() {
				logger.Warn("llm endpoint not configured, assistant turns will be rejected")
				return llm.Disabled{}, nil
			}
			return llm.NewClient(llm.Config{
				Endpoint: cfg.LLMEndpoint,
				APIKey:   cfg.LLMKey,
				Model:    cfg.LLMModel,
				Timeout:  cfg.LLMTimeout,
			}, logger)
		}, []BindOption{AsSingleton(), WithEagerInit()}},

		{CapAssistant, func(ctx context.Context, c *Container) (interface{}, error) {
			conversations, err := ResolveAs[ports.ConversationStore](ctx, c, ports.CapConversationStore)
			if err != nil {
				return nil, err
			}
			provider, err := ResolveAs[ports.LLMProvider](ctx, c, ports.CapLLMProvider)
			if err != nil {
				return nil, err
			}
			graphs, err := ResolveAs[ports.GraphProvider](ctx, c, ports.CapGraphCache)
			if err != nil {
				return nil, err
			}
			resolver, err := ResolveAs[ports.SemanticResolver](ctx, c, ports.CapSemanticResolver)
			if err != nil {
				return nil, err
			}
			repo, err := explorationRepository(ctx, c, cfg)
			if err != nil {
				return nil, err
			}
			tools := assistant.NewToolset(repo, graphs, resolver)
			return assistant.NewOrchestrator(conversations, provider, tools, assistant.Options{
				PhysicalName: physicalNamer(cfg),
				LLMTimeout:   cfg.LLMTimeout,
				Window:       cfg.ConversationWindow,
				Hooks:        hooks,
				Metrics:      metrics,
				Logger:       logger,
			}), nil
		}, []BindOption{AsSingleton()}},
	}

	for _, b := range binds {
		if err := c.Bind(b.name, b.factory, b.opts...); err != nil {
			return err
		}
	}

	// The remote capability stays unbound without a DSN, so modules that
	// require it fail capability resolution at startup with a clear error.
	if cfg.RemoteEnabled() {
		remote := func(context.Context, *Container) (interface{}, error) {
			return columnar.NewRepository(columnar.Options{
				DSN:           cfg.RemoteDSN,
				Namespace:     cfg.RemoteNamespace,
				Source:        cfg.RemoteSource,
				SchemaVersion: cfg.RemoteSchemaVersion,
				QueryTimeout:  cfg.QueryTimeout,
				Retry:         persistence.DefaultRetryConfig(),
				Metrics:       metrics,
				Logger:        logger,
			})
		}
		if err := c.Bind(ports.CapRepositoryRemote, remote, AsSingleton(), WithEagerInit()); err != nil {
			return err
		}
	}
	return nil
}

// explorationRepository picks the backend the assistant tools and the data
// graph builder read from: the remote columnar store when one is configured,
// the embedded catalog otherwise.
func explorationRepository(ctx context.Context, c *Container, cfg *config.Config) (ports.Repository, error) {
	name := ports.CapRepositoryPrimary
	if cfg.RemoteEnabled() {
		name = ports.CapRepositoryRemote
	}
	return ResolveAs[ports.Repository](ctx, c, name)
}

// physicalNamer maps logical product names onto remote physical tables, so
// the assistant can tell users where a product actually lives. Without a
// remote backend the names coincide and the orchestrator's identity default
// applies.
func physicalNamer(cfg *config.Config) func(product string) string {
	if !cfg.RemoteEnabled() {
		return nil
	}
	return func(product string) string {
		return catalog.RemoteTableName(cfg.RemoteNamespace, cfg.RemoteSource, product, cfg.RemoteSchemaVersion)
	}
}
