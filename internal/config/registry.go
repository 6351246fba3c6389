package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// FaceFactory builds a face detector from its configuration entry.
type FaceFactory func(ProviderEntry) (face.Detector, error)

// PoseFactory builds a pose detector from its configuration entry.
type PoseFactory func(ProviderEntry) (pose.Detector, error)

// Registry maps backend names to detector factories. It is safe for
// concurrent use.
type Registry struct {
	mu   sync.RWMutex
	face map[string]FaceFactory
	pose map[string]PoseFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		face: make(map[string]FaceFactory),
		pose: make(map[string]PoseFactory),
	}
}

// RegisterFace registers a face detector factory under name, replacing any
// earlier registration.
func (r *Registry) RegisterFace(name string, factory FaceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.face[name] = factory
}

// RegisterPose registers a pose detector factory under name.
func (r *Registry) RegisterPose(name string, factory PoseFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose[name] = factory
}

// CreateFace builds the face detector registered under entry.Name. Fallbacks
// in entry are not built; see [Registry.CreateFaceChain].
func (r *Registry) CreateFace(entry ProviderEntry) (face.Detector, error) {
	r.mu.RLock()
	factory, ok := r.face[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: face/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePose builds the pose detector registered under entry.Name.
func (r *Registry) CreatePose(entry ProviderEntry) (pose.Detector, error) {
	r.mu.RLock()
	factory, ok := r.pose[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: pose/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// NamedFace is a built face backend and the label used for it in logs and
// breaker status.
type NamedFace struct {
	Name     string
	Detector face.Detector
}

// NamedPose is a built pose backend with its label.
type NamedPose struct {
	Name     string
	Detector pose.Detector
}

// CreateFaceChain builds entry and every fallback, primary first.
func (r *Registry) CreateFaceChain(entry ProviderEntry) ([]NamedFace, error) {
	var out []NamedFace
	for i, e := range chain(entry) {
		d, err := r.CreateFace(e)
		if err != nil {
			return nil, fmt.Errorf("config: face backend %d: %w", i, err)
		}
		out = append(out, NamedFace{Name: label(e, i), Detector: d})
	}
	return out, nil
}

// CreatePoseChain builds entry and every fallback, primary first.
func (r *Registry) CreatePoseChain(entry ProviderEntry) ([]NamedPose, error) {
	var out []NamedPose
	for i, e := range chain(entry) {
		d, err := r.CreatePose(e)
		if err != nil {
			return nil, fmt.Errorf("config: pose backend %d: %w", i, err)
		}
		out = append(out, NamedPose{Name: label(e, i), Detector: d})
	}
	return out, nil
}

func chain(entry ProviderEntry) []ProviderEntry {
	primary := entry
	primary.Fallbacks = nil
	return append([]ProviderEntry{primary}, entry.Fallbacks...)
}

// label names a backend "name" for the primary and "name#i" for fallbacks,
// so two fallbacks of the same kind stay distinguishable.
func label(e ProviderEntry, i int) string {
	if i == 0 {
		return e.Name
	}
	return fmt.Sprintf("%s#%d", e.Name, i)
}
