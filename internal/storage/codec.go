package storage

import (
	"encoding/json"
	"errors"

	"sddr/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeNetworkState(s model.NetworkState) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeNetworkState(data []byte) (model.NetworkState, error) {
	var state model.NetworkState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.NetworkState{}, err
	}
	if err := checkVersion(state.VersionedRecord); err != nil {
		return model.NetworkState{}, err
	}
	return state, nil
}

func EncodeFitRecord(r model.FitRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeFitRecord(data []byte) (model.FitRecord, error) {
	var record model.FitRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.FitRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.FitRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
