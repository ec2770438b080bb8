package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/aggregator"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/executor"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/facade"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/he"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/orchestrator"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/privacy"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/simtrainer"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/store"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/transport"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// bodyShapes/headShapes describe the tiny synthetic model every simulated
// client trains against.
var (
	bodyShapes = map[string]tensor.Shape{
		"layer1.weight": {8, 4},
		"layer1.bias":   {8},
	}
	headShapes = map[string]tensor.Shape{
		"classifier.weight": {4, 2},
		"classifier.bias":   {2},
	}
)

func main() {
	log.Println("Starting federated-learning round orchestrator...")

	dbURL := requireEnv("DATABASE_URL")

	st, err := store.Connect(context.Background(), dbURL)
	if err != nil {
		log.Fatalf("FATAL: unable to connect to PostgreSQL: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(context.Background()); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	heCtx, err := he.New()
	if err != nil {
		log.Fatalf("FATAL: unable to initialise CKKS context: %v", err)
	}

	epsilon := getEnvFloat("DP_EPSILON", 1.0)
	delta := getEnvFloat("DP_DELTA", 1e-5)
	maxGradNorm := getEnvFloat("DP_MAX_GRAD_NORM", 1.0)
	dpCfg, err := privacy.New(epsilon, delta, 1.0, maxGradNorm)
	if err != nil {
		log.Fatalf("FATAL: invalid DP configuration: %v", err)
	}

	numClients, _ := strconv.Atoi(getEnvOrDefault("NUM_CLIENTS", "3"))
	if numClients < 1 {
		numClients = 3
	}
	localEpochs, _ := strconv.Atoi(getEnvOrDefault("LOCAL_EPOCHS", "1"))

	inproc := transport.NewInProcess()
	clients := make([]string, numClients)
	for i := 0; i < numClients; i++ {
		name := fmt.Sprintf("client-%d", i+1)
		clients[i] = name

		trainer := simtrainer.New(bodyShapes, headShapes)
		handler := executor.NewHandler(trainer, dpCfg, heCtx, localEpochs)
		inproc.Register(name, handler)
	}

	hub := orchestrator.NewHub()
	go hub.Run()

	cfg := orchestrator.DefaultConfig()
	if n, err := strconv.Atoi(os.Getenv("NUM_ROUNDS")); err == nil && n > 0 {
		cfg.NumRounds = uint32(n)
	}
	if n, err := strconv.Atoi(os.Getenv("MIN_CLIENTS")); err == nil && n > 0 {
		cfg.MinClients = uint32(n)
	}

	orch := orchestrator.New(cfg, aggregator.New(), heCtx, st, inproc, clients, hub)
	orch.JobID = uuid.New().String()
	log.Printf("job_id=%s clients=%d rounds=%d min_clients=%d", orch.JobID, numClients, cfg.NumRounds, cfg.MinClients)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.RunRounds(ctx)

	r := facade.SetupRouter(st, hub)
	port := getEnvOrDefault("PORT", "8080")
	log.Printf("dashboard facade listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("FATAL: facade server failed: %v", err)
	}
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvFloat(key string, fallback float32) float32 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
