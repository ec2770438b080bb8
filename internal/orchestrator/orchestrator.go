// Package orchestrator drives the federated-learning round state machine:
// broadcast the global model, collect client replies, aggregate body and
// head, persist round state, and advance — cancelling cleanly on an
// abort signal and tolerating per-round quorum failures.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/aggregator"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/he"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/metrics"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/store"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/transport"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/models"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// State is the orchestrator's per-round lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateBroadcasting State = "broadcasting"
	StateAggregating  State = "aggregating"
	StatePersisting   State = "persisting"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Config holds the orchestrator's tunables.
type Config struct {
	NumRounds  uint32
	MinClients uint32
}

// DefaultConfig returns the default configuration (num_rounds=20, min_clients=3).
func DefaultConfig() Config {
	return Config{NumRounds: 20, MinClients: 3}
}

// Orchestrator wires together the aggregator, the HE context holding the
// server's CKKS secret key, a persistence store, a transport to reach
// clients, and a Hub for live round-lifecycle broadcast.
type Orchestrator struct {
	Config Config

	Aggregator *aggregator.Aggregator
	HE         *he.SelectiveHE
	Store      *store.Store
	Transport  transport.Transport
	Hub        *Hub

	Clients []string

	// JobID is recorded on every round row this process writes, letting
	// the dashboard facade group rounds by orchestrator run.
	JobID string

	state       State
	globalState *tensor.NamedTensorMap
	round       uint32

	// prevFlagged holds the previous round's per-client flagged/not-flagged
	// labels, keyed by client name, so runRound can report how much the
	// trust-flag partition drifted round over round.
	prevFlagged map[string]int
}

// New constructs an Orchestrator. hub may be nil if live broadcast is not
// wanted (e.g. in tests).
func New(cfg Config, agg *aggregator.Aggregator, heCtx *he.SelectiveHE, st *store.Store, tr transport.Transport, clients []string, hub *Hub) *Orchestrator {
	return &Orchestrator{
		Config:     cfg,
		Aggregator: agg,
		HE:         heCtx,
		Store:      st,
		Transport:  tr,
		Clients:    clients,
		Hub:        hub,
		state:      StateIdle,
		round:      1,
	}
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// clientResult is one OK-returning client's contribution for the current
// round.
type clientResult struct {
	clientName           string
	body                 *tensor.NamedTensorMap
	headCipher           map[string][]byte
	localLoss            float32
	localAUC             float32
	numSamples           uint32
	encryptionOverheadMs float32
	avgClipFactor        float32
}

// RunRounds drives the round loop until NumRounds completes or ctx is
// cancelled.
func (o *Orchestrator) RunRounds(ctx context.Context) {
	for o.round <= o.Config.NumRounds {
		if ctx.Err() != nil {
			log.Printf("[orchestrator] abort signalled, stopping at round %d", o.round)
			return
		}
		o.runRound(ctx)
		o.round++
	}
}

func (o *Orchestrator) runRound(ctx context.Context) {
	roundNumber := o.round
	startedAt := time.Now()

	o.setState(StateIdle)
	log.Printf("[orchestrator] starting round %d/%d", roundNumber, o.Config.NumRounds)

	var roundID int64
	if o.Store != nil {
		status := "in_progress"
		numClients := o.Config.MinClients
		upd := store.RoundUpdate{
			Status:     &status,
			NumClients: &numClients,
			StartedAt:  &startedAt,
		}
		if o.JobID != "" {
			upd.JobID = &o.JobID
		}
		roundID = o.Store.WriteRound(ctx, roundNumber, upd)
	}

	o.setState(StateBroadcasting)
	results := o.broadcastAndCollect(ctx, roundNumber)

	if uint32(len(results)) < o.Config.MinClients {
		log.Printf("[orchestrator] round %d: only %d responses, need %d", roundNumber, len(results), o.Config.MinClients)
		o.setState(StateFailed)
		if o.Store != nil && roundID != 0 {
			status := "failed"
			numClients := uint32(len(results))
			o.Store.WriteRound(ctx, roundNumber, store.RoundUpdate{Status: &status, NumClients: &numClients})
		}
		return
	}

	o.setState(StateAggregating)
	aggStart := time.Now()

	bodies := make([]*tensor.NamedTensorMap, len(results))
	for i, r := range results {
		bodies[i] = r.body
	}
	medianBody, err := o.Aggregator.Aggregate(bodies)
	if err != nil {
		log.Printf("[orchestrator] round %d: aggregation failed: %v", roundNumber, err)
		o.setState(StateFailed)
		if o.Store != nil && roundID != 0 {
			status := "failed"
			o.Store.WriteRound(ctx, roundNumber, store.RoundUpdate{Status: &status})
		}
		return
	}
	distances, err := o.Aggregator.ComputeDistances(bodies, medianBody)
	if err != nil {
		log.Printf("[orchestrator] round %d: distance computation failed: %v", roundNumber, err)
		distances = make([]float32, len(bodies))
	}
	aggTimeMs := uint32(time.Since(aggStart).Milliseconds())

	meanHead := o.meanHead(results)
	o.globalState = mergeHeadIntoBody(medianBody, meanHead)

	var sumLoss, sumAUC, sumEncOverheadMs, sumClipFactor float32
	for _, r := range results {
		sumLoss += r.localLoss
		sumAUC += r.localAUC
		sumEncOverheadMs += r.encryptionOverheadMs
		sumClipFactor += r.avgClipFactor
	}
	globalLoss := sumLoss / float32(len(results))
	globalAUC := sumAUC / float32(len(results))
	avgEncOverheadMs := sumEncOverheadMs / float32(len(results))
	avgClipFactor := sumClipFactor / float32(len(results))

	o.setState(StatePersisting)
	completedAt := time.Now()

	var poisoned uint32
	for _, d := range distances {
		if d > 2.0 {
			poisoned++
		}
	}

	if o.Store != nil && roundID != 0 {
		status := "completed"
		numClients := uint32(len(results))
		o.Store.WriteRound(ctx, roundNumber, store.RoundUpdate{
			Status:      &status,
			NumClients:  &numClients,
			GlobalLoss:  &globalLoss,
			GlobalAUC:   &globalAUC,
			CompletedAt: &completedAt,
		})

		o.Store.WriteRoundMetric(ctx, models.RoundMetric{
			RoundID:                 roundID,
			AggregationMethod:       "geometric_median",
			WeiszfeldIterations:     uint32(o.Aggregator.LastIterations),
			ConvergenceEpsilon:      o.Aggregator.Eps,
			EncryptionOverheadMs:    uint32(avgEncOverheadMs),
			AggregationTimeMs:       aggTimeMs,
			PoisonedClientsDetected: poisoned,
		})
		log.Printf("[orchestrator] round %d: avg encryption overhead=%.2fms avg clip factor=%.3f", roundNumber, avgEncOverheadMs, avgClipFactor)

		currFlagged := make(map[string]int, len(results))
		for i, r := range results {
			dist := float32(0)
			if i < len(distances) {
				dist = distances[i]
			}
			encryptionStatus := "plaintext"
			if len(r.headCipher) > 0 {
				encryptionStatus = "encrypted"
			}
			o.Store.WriteClientUpdate(ctx, roundID, r.clientName, r.localLoss, r.localAUC, r.numSamples, dist, encryptionStatus)

			// Trust score formula: score = 1/(1+d), flagged when score<0.3.
			trust := 1.0 / (1.0 + dist)
			flagged := trust < 0.3
			o.Store.WriteTrustScore(ctx, r.clientName, roundID, trust, dist, flagged)
			currFlagged[r.clientName] = boolToLabel(flagged)
		}
		o.logTrustDrift(roundNumber, currFlagged)
		o.prevFlagged = currFlagged
	}

	o.setState(StateCompleted)
	log.Printf("[orchestrator] round %d completed: loss=%.4f auc=%.4f poisoned=%d", roundNumber, globalLoss, globalAUC, poisoned)
}

// logTrustDrift compares this round's flagged/not-flagged client partition
// against the previous round's via the Adjusted Rand Index and Variation
// of Information, restricted to clients present in both rounds. A low ARI
// (or high VI) means the set of distrusted clients is churning rather
// than converging on a stable minority — worth an operator's attention
// even though it drives no persisted state.
func (o *Orchestrator) logTrustDrift(roundNumber uint32, curr map[string]int) {
	ari, vi, ok := trustDriftMetrics(o.prevFlagged, curr)
	if !ok {
		return
	}
	log.Printf("[orchestrator] round %d: trust-flag drift vs previous round: ari=%.3f vi=%.3f", roundNumber, ari, vi)
}

// trustDriftMetrics restricts prev and curr to clients present in both,
// then scores the drift between their flagged/not-flagged labels via ARI
// and VI. ok is false when there is no previous round or fewer than two
// clients survive the restriction, in which case ari/vi are meaningless.
func trustDriftMetrics(prev, curr map[string]int) (ari, vi float64, ok bool) {
	if len(prev) == 0 {
		return 0, 0, false
	}

	var prevLabels, currLabels []int
	for client, prevLabel := range prev {
		currLabel, present := curr[client]
		if !present {
			continue
		}
		prevLabels = append(prevLabels, prevLabel)
		currLabels = append(currLabels, currLabel)
	}
	if len(prevLabels) < 2 {
		return 0, 0, false
	}

	return metrics.AdjustedRandIndex(currLabels, prevLabels),
		metrics.VariationOfInformation(currLabels, prevLabels), true
}

func boolToLabel(b bool) int {
	if b {
		return 1
	}
	return 0
}

// broadcastAndCollect sends a train task to every configured client and
// keeps only OK replies.
func (o *Orchestrator) broadcastAndCollect(ctx context.Context, roundNumber uint32) []clientResult {
	msg := transport.Message{
		Task:        transport.TaskTrain,
		Payload:     globalStatePayload(o.globalState),
		RoundNumber: roundNumber,
	}

	var results []clientResult
	for _, client := range o.Clients {
		if ctx.Err() != nil {
			log.Printf("[orchestrator] abort during collection at round %d", roundNumber)
			return results
		}

		reply, err := o.Transport.Send(ctx, client, msg)
		if err != nil {
			log.Printf("[orchestrator] client %s: transport error: %v", client, err)
			continue
		}
		if reply.Outcome != transport.OutcomeOK {
			log.Printf("[orchestrator] client %s: outcome %s, dropping", client, reply.Outcome)
			continue
		}

		body, headCipher := splitReplyPayload(reply.Payload)
		results = append(results, clientResult{
			clientName:           client,
			body:                 body,
			headCipher:           headCipher,
			localLoss:            float32(reply.Meta["local_loss"]),
			localAUC:             float32(reply.Meta["local_auc"]),
			numSamples:           uint32(reply.Meta["num_samples"]),
			encryptionOverheadMs: float32(reply.Meta["encryption_overhead_ms"]),
			avgClipFactor:        float32(reply.Meta["avg_clip_factor"]),
		})
	}
	return results
}

// meanHead decrypts every client's head and averages them element-wise.
// Returns an empty map if no client contributed a head.
func (o *Orchestrator) meanHead(results []clientResult) *tensor.NamedTensorMap {
	var headMaps []*tensor.NamedTensorMap
	for _, r := range results {
		if len(r.headCipher) == 0 {
			continue
		}
		decrypted, err := o.HE.DecryptHead(r.headCipher)
		if err != nil {
			log.Printf("[orchestrator] client %s: decrypting head: %v", r.clientName, err)
			continue
		}
		headMaps = append(headMaps, decrypted)
	}

	out := tensor.NewNamedTensorMap()
	if len(headMaps) == 0 {
		return out
	}

	for _, key := range headMaps[0].Keys() {
		first, _ := headMaps[0].Get(key)
		sum := make([]float32, len(first.Data))
		for _, m := range headMaps {
			t, ok := m.Get(key)
			if !ok {
				continue
			}
			for i, v := range t.Data {
				sum[i] += v
			}
		}
		mean := make([]float32, len(sum))
		for i, v := range sum {
			mean[i] = v / float32(len(headMaps))
		}
		out.Set(key, tensor.Tensor{Shape: first.Shape, Data: mean})
	}
	return out
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	if o.Hub == nil {
		return
	}
	event, err := json.Marshal(map[string]any{
		"round": o.round,
		"state": string(s),
		"at":    time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	o.Hub.Broadcast(event)
}

// globalStatePayload converts the orchestrator's current merged
// global-weight map into a transport payload. A nil state means round 1's
// "current_global_or_empty" case.
func globalStatePayload(m *tensor.NamedTensorMap) transport.Payload {
	out := transport.Payload{}
	if m == nil {
		return out
	}
	for _, key := range m.Keys() {
		t, _ := m.Get(key)
		out[key] = transport.PlainValue([]int(t.Shape), t.Data)
	}
	return out
}

// splitReplyPayload separates a client's train reply into its plaintext
// body map and its ciphered head map.
func splitReplyPayload(p transport.Payload) (*tensor.NamedTensorMap, map[string][]byte) {
	body := tensor.NewNamedTensorMap()
	head := make(map[string][]byte)
	for key, v := range p {
		if v.IsCipher {
			head[key] = v.Cipher
			continue
		}
		body.Set(key, tensor.Tensor{Shape: tensor.Shape(v.Shape), Data: v.Data})
	}
	return body, head
}

// mergeHeadIntoBody combines the aggregated body and head into the next
// round's global weights.
func mergeHeadIntoBody(body, head *tensor.NamedTensorMap) *tensor.NamedTensorMap {
	out := body.Clone()
	for _, key := range head.Keys() {
		t, _ := head.Get(key)
		out.Set(key, t)
	}
	return out
}
