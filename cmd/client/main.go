// Command client is a standalone smoke-test binary for a single client
// executor: it builds one Handler with a synthetic local trainer and
// drives it through train → validate → submit_model without an
// orchestrator, useful for exercising DP/HE wiring in isolation. The real
// deployment runs client executors registered against an
// orchestrator-owned transport.InProcess, as cmd/orchestrator/main.go
// does.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/executor"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/he"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/privacy"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/simtrainer"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/transport"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

func main() {
	log.Println("Starting standalone client executor smoke test...")

	localEpochs, _ := strconv.Atoi(getEnvOrDefault("LOCAL_EPOCHS", "1"))

	heCtx, err := he.New()
	if err != nil {
		log.Fatalf("FATAL: unable to initialise CKKS context: %v", err)
	}

	dpCfg := privacy.NewDefault()

	bodyShapes := map[string]tensor.Shape{
		"layer1.weight": {8, 4},
		"layer1.bias":   {8},
	}
	headShapes := map[string]tensor.Shape{
		"classifier.weight": {4, 2},
		"classifier.bias":   {2},
	}
	trainer := simtrainer.New(bodyShapes, headShapes)

	handler := executor.NewHandler(trainer, dpCfg, heCtx, localEpochs)

	ctx := context.Background()

	trainReply := handler.Dispatch(ctx, transport.Message{Task: transport.TaskTrain, Payload: transport.Payload{}, RoundNumber: 1})
	logReply("train", trainReply)

	validateReply := handler.Dispatch(ctx, transport.Message{Task: transport.TaskValidate, Payload: transport.Payload{}, RoundNumber: 1})
	logReply("validate", validateReply)

	submitReply := handler.Dispatch(ctx, transport.Message{Task: transport.TaskSubmitModel, Payload: transport.Payload{}, RoundNumber: 1})
	log.Printf("submit_model outcome=%s tensors=%d", submitReply.Outcome, len(submitReply.Payload))
}

func logReply(task string, r transport.Reply) {
	meta, _ := json.Marshal(r.Meta)
	log.Printf("%s outcome=%s meta=%s", task, r.Outcome, meta)
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
