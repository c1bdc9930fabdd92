package storage

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"sddr/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	networks    map[string]model.NetworkState
	fits        map[string]model.FitRecord
	order       []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.networks = make(map[string]model.NetworkState)
	s.fits = make(map[string]model.FitRecord)
	s.order = nil
	return nil
}

func (s *MemoryStore) SaveNetworkState(_ context.Context, state model.NetworkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.networks[state.ID] = cloneNetworkState(state)
	return nil
}

func (s *MemoryStore) GetNetworkState(_ context.Context, id string) (model.NetworkState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.NetworkState{}, false, errNotInitialized
	}
	state, ok := s.networks[id]
	if !ok {
		return model.NetworkState{}, false, nil
	}
	return cloneNetworkState(state), true, nil
}

func (s *MemoryStore) SaveFitRecord(_ context.Context, record model.FitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if _, exists := s.fits[record.RunID]; !exists {
		s.order = append(s.order, record.RunID)
	}
	record.History = append([]float64(nil), record.History...)
	s.fits[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetFitRecord(_ context.Context, runID string) (model.FitRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.FitRecord{}, false, errNotInitialized
	}
	record, ok := s.fits[runID]
	if !ok {
		return model.FitRecord{}, false, nil
	}
	record.History = append([]float64(nil), record.History...)
	return record, true, nil
}

func (s *MemoryStore) ListFitRecords(_ context.Context) ([]model.FitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	out := make([]model.FitRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		record := s.fits[s.order[i]]
		record.History = append([]float64(nil), record.History...)
		out = append(out, record)
	}
	// Insertion order breaks ties between equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	return out, nil
}

func cloneNetworkState(s model.NetworkState) model.NetworkState {
	out := s
	out.Params = make([]model.ParamState, len(s.Params))
	for i, p := range s.Params {
		c := p
		c.StructuredWeights = append([]float64(nil), p.StructuredWeights...)
		c.DeepWeights = append([]float64(nil), p.DeepWeights...)
		c.Penalty = append([]float64(nil), p.Penalty...)
		c.ModelWidths = maps.Clone(p.ModelWidths)
		c.SplineRanges = maps.Clone(p.SplineRanges)
		if p.Orthogonalization != nil {
			c.Orthogonalization = make(map[string][][]int, len(p.Orthogonalization))
			for name, groups := range p.Orthogonalization {
				cloned := make([][]int, len(groups))
				for g, cols := range groups {
					cloned[g] = append([]int(nil), cols...)
				}
				c.Orthogonalization[name] = cloned
			}
		}
		out.Params[i] = c
	}
	return out
}
