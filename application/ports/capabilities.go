package ports

// Capability names under which implementations are bound in the container.
// Module descriptors reference these in their requires/optional lists.
// Names starting with an underscore are platform-private: descriptors may
// not require them and the registry rejects any that try.
const (
	CapRepositoryPrimary = "repository.primary"
	CapRepositoryRemote  = "repository.remote"
	CapSchemaSource      = "schema.source"
	CapGraphStore        = "graph.store"
	CapGraphCache        = "graph.cache"
	CapConversationStore = "conversation.store"
	CapLLMProvider       = "llm.provider"
	CapSemanticResolver  = "semantic.resolver"
	CapHooks             = "platform.hooks"

	// CapConfig exposes the resolved platform configuration to platform
	// wiring only; the underscore keeps it out of module reach.
	CapConfig = "_platform.config"

	// CapLogger is the shared zap logger, platform-private like CapConfig
	CapLogger = "_platform.logger"
)

// PlatformCapabilities lists the capability names the platform itself binds
// and modules may require.
func PlatformCapabilities() []string {
	return []string{
		CapRepositoryPrimary,
		CapRepositoryRemote,
		CapSchemaSource,
		CapGraphStore,
		CapGraphCache,
		CapConversationStore,
		CapLLMProvider,
		CapSemanticResolver,
		CapHooks,
	}
}
