package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/he"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/privacy"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/transport"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// fakeTrainer is a LocalTrainer test double that tracks what was loaded
// and returns pre-programmed results.
type fakeTrainer struct {
	body, head       *tensor.NamedTensorMap
	epochLoss        float32
	epochSamples     uint32
	epochErr         error
	valLoss, valAUC  float32
	valErr           error
	loadedBodyCalled bool
	loadedHeadCalled bool
}

func newFakeTrainer() *fakeTrainer {
	t := &fakeTrainer{
		body: tensor.NewNamedTensorMap(),
		head: tensor.NewNamedTensorMap(),
	}
	t.body.Set("fc1.weight", tensor.Tensor{Shape: tensor.Shape{2}, Data: []float32{0.1, 0.2}})
	t.head.Set("classifier.weight", tensor.Tensor{Shape: tensor.Shape{2}, Data: []float32{1, -1}})
	return t
}

func (f *fakeTrainer) LoadBodyState(body *tensor.NamedTensorMap) { f.loadedBodyCalled = true }
func (f *fakeTrainer) LoadHeadState(head *tensor.NamedTensorMap) { f.loadedHeadCalled = true }
func (f *fakeTrainer) BodyState() *tensor.NamedTensorMap         { return f.body }
func (f *fakeTrainer) HeadState() *tensor.NamedTensorMap         { return f.head }
func (f *fakeTrainer) TrainEpoch(ctx context.Context) (float32, uint32, error) {
	return f.epochLoss, f.epochSamples, f.epochErr
}
func (f *fakeTrainer) Validate(ctx context.Context) (float32, float32, error) {
	return f.valLoss, f.valAUC, f.valErr
}

func newTestHandler(t *testing.T, trainer *fakeTrainer) *Handler {
	t.Helper()
	dp := privacy.NewDefault()
	heCtx, err := he.New()
	if err != nil {
		t.Fatalf("unexpected error constructing HE context: %v", err)
	}
	return NewHandler(trainer, dp, heCtx, 1)
}

func TestDispatch_UnknownTaskReturnsTaskUnknown(t *testing.T) {
	h := newTestHandler(t, newFakeTrainer())
	reply := h.Dispatch(context.Background(), transport.Message{Task: "bogus"})
	if reply.Outcome != transport.OutcomeTaskUnknown {
		t.Errorf("expected TaskUnknown, got %v", reply.Outcome)
	}
}

func TestDispatch_Train_ReturnsOKWithMixedPayload(t *testing.T) {
	trainer := newFakeTrainer()
	trainer.epochLoss = 0.5
	trainer.epochSamples = 32
	trainer.valLoss = 0.4
	trainer.valAUC = 0.8

	h := newTestHandler(t, trainer)
	reply := h.Dispatch(context.Background(), transport.Message{Task: transport.TaskTrain, Payload: transport.Payload{}})

	if reply.Outcome != transport.OutcomeOK {
		t.Fatalf("expected OK, got %v", reply.Outcome)
	}
	if reply.Meta["local_loss"] != 0.5 {
		t.Errorf("expected local_loss=0.5, got %v", reply.Meta["local_loss"])
	}
	if reply.Meta["num_samples"] != 32 {
		t.Errorf("expected num_samples=32, got %v", reply.Meta["num_samples"])
	}

	bodyVal, ok := reply.Payload["fc1.weight"]
	if !ok || bodyVal.IsCipher {
		t.Errorf("expected plaintext body key fc1.weight in reply, got %+v", bodyVal)
	}
	headVal, ok := reply.Payload["classifier.weight"]
	if !ok || !headVal.IsCipher {
		t.Errorf("expected ciphertext head key classifier.weight in reply, got %+v", headVal)
	}
}

func TestDispatch_Train_AbortBetweenEpochs(t *testing.T) {
	trainer := newFakeTrainer()
	h := newTestHandler(t, trainer)
	h.LocalEpochs = 3

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := h.Dispatch(ctx, transport.Message{Task: transport.TaskTrain, Payload: transport.Payload{}})
	if reply.Outcome != transport.OutcomeTaskAborted {
		t.Errorf("expected TaskAborted, got %v", reply.Outcome)
	}
}

func TestDispatch_Train_EpochErrorIsExecutionException(t *testing.T) {
	trainer := newFakeTrainer()
	trainer.epochErr = errors.New("local data unavailable")
	h := newTestHandler(t, trainer)

	reply := h.Dispatch(context.Background(), transport.Message{Task: transport.TaskTrain, Payload: transport.Payload{}})
	if reply.Outcome != transport.OutcomeExecutionException {
		t.Errorf("expected ExecutionException, got %v", reply.Outcome)
	}
}

func TestDispatch_Train_ValidationFailureTolerated(t *testing.T) {
	trainer := newFakeTrainer()
	trainer.valErr = errors.New("single-class label column")
	h := newTestHandler(t, trainer)

	reply := h.Dispatch(context.Background(), transport.Message{Task: transport.TaskTrain, Payload: transport.Payload{}})
	if reply.Outcome != transport.OutcomeOK {
		t.Fatalf("expected OK despite validation failure, got %v", reply.Outcome)
	}
	if reply.Meta["local_auc"] != 0 {
		t.Errorf("expected local_auc=0 on validation failure, got %v", reply.Meta["local_auc"])
	}
}

func TestDispatch_SubmitModel_ReturnsPlaintextState(t *testing.T) {
	trainer := newFakeTrainer()
	h := newTestHandler(t, trainer)

	reply := h.Dispatch(context.Background(), transport.Message{Task: transport.TaskSubmitModel})
	if reply.Outcome != transport.OutcomeOK {
		t.Fatalf("expected OK, got %v", reply.Outcome)
	}
	if reply.Payload["classifier.weight"].IsCipher {
		t.Errorf("expected submit_model to return plaintext head, got ciphertext")
	}
}

func TestPartition_HeadPrefixSplit(t *testing.T) {
	h := newTestHandler(t, newFakeTrainer())
	payload := transport.Payload{
		"fc1.weight":        transport.PlainValue([]int{2}, []float32{1, 2}),
		"classifier.weight": transport.PlainValue([]int{2}, []float32{3, 4}),
		"classifier.bias":   transport.CipherValue([]byte{0xAB}),
	}

	body, headPlain, headCipher, headEncrypted := h.partition(payload)

	if body.Len() != 1 {
		t.Errorf("expected 1 body key, got %d", body.Len())
	}
	if !headEncrypted {
		t.Errorf("expected headEncrypted=true when any head key is cipher")
	}
	if len(headCipher) != 1 {
		t.Errorf("expected 1 cipher head key, got %d", len(headCipher))
	}
	_ = headPlain
}
