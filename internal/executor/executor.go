// Package executor implements the per-round client-side task handler:
// partition a broadcast global model into body/head, decrypt an
// encrypted head if present, train locally, then post-process the
// result with DP on the body and HE on the head before replying.
//
// Local training itself is opaque to this package — it is delegated to
// an injected LocalTrainer, so the handler owns dispatch and
// post-processing without owning the model or its dataset.
package executor

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/he"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/privacy"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/transport"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// DefaultHeadPrefix is the key prefix identifying the classifier head in
// a named-tensor map.
const DefaultHeadPrefix = "classifier."

// LocalTrainer is the opaque local-training collaborator a Handler
// delegates to. Implementations own the model and its dataset; this
// package never touches either directly.
type LocalTrainer interface {
	// LoadBodyState loads body into the local model's non-head layers.
	LoadBodyState(body *tensor.NamedTensorMap)
	// LoadHeadState loads head into the local model's classifier layers.
	LoadHeadState(head *tensor.NamedTensorMap)
	// BodyState returns the local model's current non-head weights.
	BodyState() *tensor.NamedTensorMap
	// HeadState returns the local model's current classifier weights.
	HeadState() *tensor.NamedTensorMap
	// TrainEpoch runs one local SGD epoch, returning the epoch's loss
	// and the number of samples it trained over.
	TrainEpoch(ctx context.Context) (loss float32, samples uint32, err error)
	// Validate evaluates the current local model, returning loss and
	// mean per-label AUC (0 if it cannot be computed).
	Validate(ctx context.Context) (loss, auc float32, err error)
}

// Handler dispatches train/validate/submit_model task messages.
type Handler struct {
	Trainer     LocalTrainer
	DP          *privacy.Config
	HE          *he.SelectiveHE
	LocalEpochs int
	HeadPrefix  string
}

// NewHandler constructs a Handler with the given collaborators. HeadPrefix
// defaults to DefaultHeadPrefix if empty.
func NewHandler(trainer LocalTrainer, dp *privacy.Config, heCtx *he.SelectiveHE, localEpochs int) *Handler {
	return &Handler{
		Trainer:     trainer,
		DP:          dp,
		HE:          heCtx,
		LocalEpochs: localEpochs,
		HeadPrefix:  DefaultHeadPrefix,
	}
}

// Dispatch implements transport.Handler, routing msg to the matching task
// handler and catching any panic raised within it as ExecutionException.
func (h *Handler) Dispatch(ctx context.Context, msg transport.Message) (reply transport.Reply) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[executor] task %q panicked: %v", msg.Task, r)
			reply = transport.Reply{Outcome: transport.OutcomeExecutionException}
		}
	}()

	switch msg.Task {
	case transport.TaskTrain:
		return h.handleTrain(ctx, msg)
	case transport.TaskValidate:
		return h.handleValidate(ctx, msg)
	case transport.TaskSubmitModel:
		return h.handleSubmitModel(ctx, msg)
	default:
		log.Printf("[executor] unknown task: %q", msg.Task)
		return transport.Reply{Outcome: transport.OutcomeTaskUnknown}
	}
}

func (h *Handler) headPrefix() string {
	if h.HeadPrefix == "" {
		return DefaultHeadPrefix
	}
	return h.HeadPrefix
}

// partition splits a payload into the plaintext body map and the head
// sub-map, which is either entirely plaintext or entirely ciphertext
// bytes.
func (h *Handler) partition(payload transport.Payload) (body, headPlain *tensor.NamedTensorMap, headCipher map[string][]byte, headEncrypted bool) {
	body = tensor.NewNamedTensorMap()
	headPlain = tensor.NewNamedTensorMap()
	headCipher = make(map[string][]byte)
	prefix := h.headPrefix()

	for key, v := range payload {
		if !strings.HasPrefix(key, prefix) {
			body.Set(key, tensor.Tensor{Shape: tensor.Shape(v.Shape), Data: v.Data})
			continue
		}
		if v.IsCipher {
			headEncrypted = true
			headCipher[key] = v.Cipher
			continue
		}
		headPlain.Set(key, tensor.Tensor{Shape: tensor.Shape(v.Shape), Data: v.Data})
	}
	return body, headPlain, headCipher, headEncrypted
}

// resolveHead decrypts headCipher if the head arrived encrypted,
// registering shapes from the local model's current head as a template
// first, otherwise returns headPlain unchanged.
func (h *Handler) resolveHead(headPlain *tensor.NamedTensorMap, headCipher map[string][]byte, headEncrypted bool) (*tensor.NamedTensorMap, error) {
	if !headEncrypted {
		return headPlain, nil
	}
	h.HE.RegisterShapes(h.Trainer.HeadState())
	decrypted, err := h.HE.DecryptHead(headCipher)
	if err != nil {
		return nil, err
	}
	return decrypted, nil
}

func (h *Handler) handleTrain(ctx context.Context, msg transport.Message) transport.Reply {
	body, headPlain, headCipher, headEncrypted := h.partition(msg.Payload)

	head, err := h.resolveHead(headPlain, headCipher, headEncrypted)
	if err != nil {
		log.Printf("[executor] train: decrypting head: %v", err)
		return transport.Reply{Outcome: transport.OutcomeExecutionException}
	}

	if body.Len() > 0 {
		h.Trainer.LoadBodyState(body)
	}
	if head.Len() > 0 {
		h.Trainer.LoadHeadState(head)
	}

	epochs := h.LocalEpochs
	if epochs <= 0 {
		epochs = 1
	}

	var totalLoss float32
	var samples uint32
	for epoch := 0; epoch < epochs; epoch++ {
		if ctx.Err() != nil {
			return transport.Reply{Outcome: transport.OutcomeTaskAborted}
		}
		loss, n, err := h.Trainer.TrainEpoch(ctx)
		if err != nil {
			log.Printf("[executor] train epoch %d: %v", epoch, err)
			return transport.Reply{Outcome: transport.OutcomeExecutionException}
		}
		totalLoss += loss
		samples = n
	}
	avgLoss := totalLoss / float32(epochs)

	valLoss, valAUC, err := h.Trainer.Validate(ctx)
	if err != nil {
		log.Printf("[executor] train: validation failed, reporting auc=0: %v", err)
		valLoss, valAUC = 0, 0
	}
	_ = valLoss

	bodyOut, clipReport := h.DP.Apply(h.Trainer.BodyState())
	headState := h.Trainer.HeadState()

	start := time.Now()
	headCipherOut, err := h.HE.EncryptHead(headState, headState.Keys())
	if err != nil {
		log.Printf("[executor] train: encrypting head: %v", err)
		return transport.Reply{Outcome: transport.OutcomeExecutionException}
	}
	elapsedMs := float64(time.Since(start).Milliseconds())

	out := make(transport.Payload, bodyOut.Len()+len(headCipherOut))
	for _, key := range bodyOut.Keys() {
		t, _ := bodyOut.Get(key)
		out[key] = transport.PlainValue([]int(t.Shape), t.Data)
	}
	for key, cipher := range headCipherOut {
		out[key] = transport.CipherValue(cipher)
	}

	return transport.Reply{
		Outcome: transport.OutcomeOK,
		Payload: out,
		Meta: map[string]float64{
			"local_loss":             float64(avgLoss),
			"local_auc":              float64(valAUC),
			"num_samples":            float64(samples),
			"encryption_overhead_ms": elapsedMs,
			"avg_clip_factor":        float64(clipReport.Average()),
		},
	}
}

func (h *Handler) handleValidate(ctx context.Context, msg transport.Message) transport.Reply {
	body, headPlain, headCipher, headEncrypted := h.partition(msg.Payload)

	head, err := h.resolveHead(headPlain, headCipher, headEncrypted)
	if err != nil {
		log.Printf("[executor] validate: decrypting head: %v", err)
		return transport.Reply{Outcome: transport.OutcomeExecutionException}
	}

	if body.Len() > 0 {
		h.Trainer.LoadBodyState(body)
	}
	if head.Len() > 0 {
		h.Trainer.LoadHeadState(head)
	}

	valLoss, valAUC, err := h.Trainer.Validate(ctx)
	if err != nil {
		log.Printf("[executor] validate: %v", err)
		valLoss, valAUC = 0, 0
	}

	return transport.Reply{
		Outcome: transport.OutcomeOK,
		Payload: transport.Payload{},
		Meta: map[string]float64{
			"val_loss": float64(valLoss),
			"val_auc":  float64(valAUC),
		},
	}
}

func (h *Handler) handleSubmitModel(ctx context.Context, msg transport.Message) transport.Reply {
	body := h.Trainer.BodyState()
	head := h.Trainer.HeadState()

	out := make(transport.Payload, body.Len()+head.Len())
	for _, key := range body.Keys() {
		t, _ := body.Get(key)
		out[key] = transport.PlainValue([]int(t.Shape), t.Data)
	}
	for _, key := range head.Keys() {
		t, _ := head.Get(key)
		out[key] = transport.PlainValue([]int(t.Shape), t.Data)
	}

	return transport.Reply{Outcome: transport.OutcomeOK, Payload: out}
}
