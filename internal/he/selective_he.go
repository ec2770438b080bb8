// Package he implements selective homomorphic encryption of a model's
// classifier head: only the tensors named as "head" keys are
// encrypted under CKKS before leaving the client; the body travels in the
// clear (subject to the privacy package's DP mechanism instead).
//
// The orchestrator holds the CKKS secret key and decrypts heads before
// averaging, matching the original source's single-keyholder design even
// though a true multi-party scheme would keep the key off the server.
package he

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v3/ckks"
	"github.com/tuneinsight/lattigo/v3/rlwe"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/tensor"
)

// paramsLiteral fixes the CKKS parameters: LogN=13 (poly degree 8192),
// four-limb modulus chain, scale 2^40.
var paramsLiteral = ckks.ParametersLiteral{
	LogN:     13,
	LogQ:     []int{60, 40, 40, 60},
	LogP:     []int{61},
	LogSlots: 12,
	Scale:    1 << 40,
	Sigma:    rlwe.DefaultSigma,
}

// ErrMissingShape is returned when decrypting a tensor whose shape was
// never registered via RegisterShapes/SetShapes.
var ErrMissingShape = errors.New("he: missing shape registration")

// SelectiveHE owns a single CKKS context (params, keypair, encoder) and a
// registry mapping tensor key to its original shape, needed to reshape a
// decrypted slot vector back into a tensor.
//
// It is the server's keyholder: the same instance both encrypts on behalf
// of clients it impersonates in tests and decrypts received heads in the
// orchestrator, mirroring the source's single-context design.
type SelectiveHE struct {
	params    ckks.Parameters
	encoder   ckks.Encoder
	encryptor ckks.Encryptor
	decryptor ckks.Decryptor
	sk        *rlwe.SecretKey
	pk        *rlwe.PublicKey

	mu     sync.RWMutex
	shapes map[string]tensor.Shape
}

// New constructs a SelectiveHE with a freshly generated CKKS keypair.
func New() (*SelectiveHE, error) {
	params, err := ckks.NewParametersFromLiteral(paramsLiteral)
	if err != nil {
		return nil, fmt.Errorf("he: parameter construction: %w", err)
	}

	kgen := ckks.NewKeyGenerator(params)
	sk := kgen.GenSecretKey()
	pk := kgen.GenPublicKey(sk)

	return &SelectiveHE{
		params:    params,
		encoder:   ckks.NewEncoder(params),
		encryptor: ckks.NewEncryptor(params, pk),
		decryptor: ckks.NewDecryptor(params, sk),
		sk:        sk,
		pk:        pk,
		shapes:    make(map[string]tensor.Shape),
	}, nil
}

// RegisterShapes records the shape of every tensor in m under its key, so
// a later DecryptTensor call can reshape the recovered slot vector.
func (h *SelectiveHE) RegisterShapes(m *tensor.NamedTensorMap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range m.Keys() {
		t, _ := m.Get(key)
		h.shapes[key] = t.Shape
	}
}

// GetShapes returns a copy of the current shape registry.
func (h *SelectiveHE) GetShapes() map[string]tensor.Shape {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]tensor.Shape, len(h.shapes))
	for k, v := range h.shapes {
		out[k] = v
	}
	return out
}

// SetShapes replaces the shape registry wholesale — used when a client
// executor receives the registry from the orchestrator rather than
// deriving it locally.
func (h *SelectiveHE) SetShapes(shapes map[string]tensor.Shape) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shapes = make(map[string]tensor.Shape, len(shapes))
	for k, v := range shapes {
		h.shapes[k] = v
	}
}

// EncryptTensor encodes t's data into CKKS slots and encrypts it,
// returning the ciphertext's serialized bytes.
func (h *SelectiveHE) EncryptTensor(t tensor.Tensor) ([]byte, error) {
	values := make([]complex128, len(t.Data))
	for i, v := range t.Data {
		values[i] = complex(float64(v), 0)
	}

	pt := ckks.NewPlaintext(h.params, h.params.MaxLevel(), h.params.DefaultScale())
	h.encoder.Encode(values, pt, h.params.LogSlots())

	ct := ckks.NewCiphertext(h.params, 1, h.params.MaxLevel(), h.params.DefaultScale())
	h.encryptor.Encrypt(pt, ct)

	return ct.MarshalBinary()
}

// DecryptTensor reverses EncryptTensor, reshaping the recovered values
// into a Tensor using the shape registered under key.
func (h *SelectiveHE) DecryptTensor(key string, data []byte) (tensor.Tensor, error) {
	h.mu.RLock()
	shape, ok := h.shapes[key]
	h.mu.RUnlock()
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("%w: %s", ErrMissingShape, key)
	}

	ct := ckks.NewCiphertext(h.params, 1, h.params.MaxLevel(), h.params.DefaultScale())
	if err := ct.UnmarshalBinary(data); err != nil {
		return tensor.Tensor{}, fmt.Errorf("he: ciphertext deserialization for %s: %w", key, err)
	}

	pt := ckks.NewPlaintext(h.params, h.params.MaxLevel(), h.params.DefaultScale())
	h.decryptor.Decrypt(ct, pt)
	values := h.encoder.Decode(pt, h.params.LogSlots())

	n := shape.NumElements()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(real(values[i]))
	}
	return tensor.Tensor{Shape: shape, Data: out}, nil
}

// EncryptHead encrypts every tensor in m whose key is in headKeys,
// returning a map of key to serialized ciphertext. It also
// registers the shapes of the encrypted tensors so the recipient (or this
// same instance, for the server-decrypts-its-own-clients case) can later
// call DecryptHead.
func (h *SelectiveHE) EncryptHead(m *tensor.NamedTensorMap, headKeys []string) (map[string][]byte, error) {
	h.RegisterShapes(m)

	out := make(map[string][]byte, len(headKeys))
	for _, key := range headKeys {
		t, ok := m.Get(key)
		if !ok {
			return nil, fmt.Errorf("he: head key %q not present in tensor map", key)
		}
		ct, err := h.EncryptTensor(t)
		if err != nil {
			return nil, fmt.Errorf("he: encrypting %s: %w", key, err)
		}
		out[key] = ct
	}
	return out, nil
}

// DecryptHead reverses EncryptHead, decrypting every ciphertext in the
// map back into a NamedTensorMap. The server performs this step before
// averaging the head alongside the clear-text body.
func (h *SelectiveHE) DecryptHead(ciphers map[string][]byte) (*tensor.NamedTensorMap, error) {
	out := tensor.NewNamedTensorMap()
	for key, data := range ciphers {
		t, err := h.DecryptTensor(key, data)
		if err != nil {
			return nil, err
		}
		out.Set(key, t)
	}
	return out, nil
}
