package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/teamgate-io/teamgate/internal/admin"
	"github.com/teamgate-io/teamgate/internal/api"
	"github.com/teamgate-io/teamgate/internal/auth"
	"github.com/teamgate-io/teamgate/internal/config"
	"github.com/teamgate-io/teamgate/internal/db"
	"github.com/teamgate-io/teamgate/internal/engine"
	"github.com/teamgate-io/teamgate/internal/history"
	"github.com/teamgate-io/teamgate/internal/provider"
	"github.com/teamgate-io/teamgate/internal/ratelimit"
	"github.com/teamgate-io/teamgate/internal/schema"
	"github.com/teamgate-io/teamgate/internal/tokenizer"
	"github.com/teamgate-io/teamgate/internal/upstream"
	"github.com/teamgate-io/teamgate/internal/vault"
	"github.com/teamgate-io/teamgate/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Initialize database
	database, err := db.NewDB(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	// Initialize rate limiter
	limiter, err := ratelimit.NewRateLimiter(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to initialize rate limiter:", err)
	}
	defer limiter.Close()

	// Initialize conversation history store
	historyStore, err := history.NewStore(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to initialize history store:", err)
	}
	defer historyStore.Close()

	// Credential vault and model schema registry
	credentialVault := vault.New(cfg.KeysRoot)
	loader := schema.NewLoader(cfg.ModelConfigRoot)

	registry, err := buildRegistry(loader)
	if err != nil {
		log.Fatal("Failed to build provider registry:", err)
	}

	generationEngine := engine.New(registry, credentialVault, historyStore)

	// Initialize router
	router := mux.NewRouter()

	// Auth middleware
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	// Public routes
	router.HandleFunc("/health", healthHandler).Methods("GET")

	// Admin routes (you may want to add admin auth middleware here)
	adminHandler := admin.NewAdminHandler(database, credentialVault)
	adminHandler.RegisterRoutes(router)

	// Authenticated API
	apiHandler := api.NewHandler(database, limiter, registry, generationEngine, credentialVault, cfg.JWTSecret)
	apiHandler.RegisterRoutes(router, authMiddleware)

	// Streaming channel
	wsHandler := ws.NewHandler(database, generationEngine, cfg.JWTSecret)
	router.Handle("/ws/sessions/{id}", wsHandler).Methods("GET")

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	log.Printf("Admin API available at /admin/*")
	log.Printf("Gateway API available at /api/*")
	log.Printf("Streaming channel available at /ws/sessions/{id}")
	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		log.Fatal("Server failed:", err)
	}
}

// buildRegistry discovers provider descriptors under the config root and
// registers each with its credential hook and llm collection.
func buildRegistry(loader *schema.Loader) (*provider.Registry, error) {
	registry := provider.NewRegistry(loader)

	providerIDs, err := loader.Providers()
	if err != nil {
		return nil, err
	}

	encoder := tokenizer.NewTiktoken()
	for _, id := range providerIDs {
		if _, err := registry.RegisterProvider(id, pingCredentials); err != nil {
			return nil, err
		}

		desc, err := loader.LoadProvider(id)
		if err != nil {
			return nil, err
		}
		if !desc.Supports(schema.ModelTypeLLM) {
			continue
		}

		collection := provider.NewLLMCollection(loader, id, provider.LLMOptions{
			Encoder: encoder,
			Clients: openAIClient,
			FamilyOverheads: map[string]provider.TokenOverhead{
				"gpt-3.5-turbo-0301": {PerMessage: 4, PerName: -1},
			},
		})
		if err := registry.RegisterModelCollection(id, schema.ModelTypeLLM, collection); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func openAIClient(credentials map[string]string) provider.ChatClient {
	return upstream.New(credentials["base_url"], credentials["api_key"], credentials["organization"], nil)
}

// pingCredentials is the credential hook: a cheap authenticated call proving
// the key works before it gets sealed into the vault.
func pingCredentials(ctx context.Context, credentials map[string]string) error {
	client := upstream.New(credentials["base_url"], credentials["api_key"], credentials["organization"], nil)
	return client.Ping(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}
