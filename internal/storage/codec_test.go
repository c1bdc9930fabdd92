package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"sddr/internal/model"
)

func TestDecodeNetworkStateFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("network_state_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	state, err := DecodeNetworkState(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if state.ID != "network-fixture-1" || state.Family != "normal" {
		t.Fatalf("unexpected state header: %+v", state)
	}
	if len(state.Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(state.Params))
	}
	loc := state.Params[0]
	if loc.PenaltyWidth != 2 || len(loc.Penalty) != 4 {
		t.Fatalf("unexpected penalty: width=%d data=%v", loc.PenaltyWidth, loc.Penalty)
	}
	if !reflect.DeepEqual(loc.Orthogonalization["wave"], [][]int{{0}, {1}}) {
		t.Fatalf("unexpected pattern: %v", loc.Orthogonalization)
	}
}

func TestNetworkStateRoundTrip(t *testing.T) {
	input := model.NetworkState{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:              "n1",
		Family:          "poisson",
		Params: []model.ParamState{{
			Name:              "rate",
			StructuredWeights: []float64{0.1, -0.2},
			DeepWeights:       []float64{1},
			ModelWidths:       map[string]int{"mlp": 1},
		}},
	}
	data, err := EncodeNetworkState(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeNetworkState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(input, output) {
		t.Fatalf("round trip mismatch:\nin=%+v\nout=%+v", input, output)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	state := model.NetworkState{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		ID:              "future",
	}
	data, err := EncodeNetworkState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeNetworkState(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	record := model.FitRecord{RunID: "r1"}
	data, err = EncodeFitRecord(record)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	if _, err := DecodeFitRecord(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch for unversioned record, got %v", err)
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, err := DecodeNetworkState([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := DecodeFitRecord([]byte("[]")); err == nil {
		t.Fatal("expected decode error")
	}
}

func fixturePath(name string) string {
	return filepath.Join("testdata", "fixtures", name)
}
