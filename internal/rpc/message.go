package rpc

import (
	"encoding/json"
	"time"

	"github.com/metalalive/transcoder-core/internal/domain"
)

// RequestRoutingKey is the routing key transcode requests arrive on, per
// spec.md §6.
const RequestRoutingKey = "rpc.media.transcode_video_file"

type versionSpecWire struct {
	Container    string `json:"container"`
	StorageAlias string `json:"storage_alias"`
	Internal     struct {
		Container string `json:"container"`
		IsUpdate  bool   `json:"is_update"`
	} `json:"__internal__"`
}

type requestWire struct {
	ResourceID        string                     `json:"resource_id"`
	ResIDEncoded      string                     `json:"res_id_encoded"`
	MetadataDB        string                     `json:"metadata_db"`
	StorageAlias      string                     `json:"storage_alias"`
	UserID            uint32                     `json:"usr_id"`
	LastUploadReq     uint32                     `json:"last_upld_req"`
	PartsSize         []uint32                   `json:"parts_size"`
	ElementaryStreams map[string]any             `json:"elementary_streams"`
	Outputs           map[string]versionSpecWire `json:"outputs"`
}

// DecodeRequest parses a transcode_video_file RPC request body into the
// domain representation, per spec.md §6's JSON shape.
func DecodeRequest(body []byte) (domain.TranscodeRequest, error) {
	var wire requestWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return domain.TranscodeRequest{}, domain.NewKindError(domain.ErrKindValidation, "rpc: decode request: %v", err)
	}

	req := domain.TranscodeRequest{
		ResourceID:     wire.ResourceID,
		ResIDEncoded:   wire.ResIDEncoded,
		MetadataDB:     wire.MetadataDB,
		StorageAlias:   wire.StorageAlias,
		UserID:         wire.UserID,
		LastUploadReq:  wire.LastUploadReq,
		PartsSize:      wire.PartsSize,
		ElementaryStrm: wire.ElementaryStreams,
		Outputs:        make(map[domain.VersionLabel]domain.VersionSpec, len(wire.Outputs)),
	}
	for label, spec := range wire.Outputs {
		req.Outputs[domain.VersionLabel(label)] = domain.VersionSpec{
			Container:      spec.Container,
			StorageAlias:   spec.StorageAlias,
			FallbackFormat: spec.Internal.Container,
			IsUpdate:       spec.Internal.IsUpdate,
		}
	}
	if err := req.Validate(); err != nil {
		return domain.TranscodeRequest{}, err
	}
	return req, nil
}

type progressReply struct {
	Progress float64 `json:"progress"`
}

type successReply struct {
	ResourceID    string                     `json:"resource_id"`
	UserID        uint32                     `json:"usr_id"`
	LastUploadReq uint32                     `json:"last_upld_req"`
	Info          map[string]versionMetaWire `json:"info"`
}

type versionMetaWire struct {
	Container string `json:"container"`
	Succeeded bool   `json:"succeeded"`
	Detail    string `json:"detail"`
}

type errorReply struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func encodeProgressReply(fraction float64) ([]byte, error) {
	return json.Marshal(progressReply{Progress: fraction})
}

func encodeSuccessReply(req domain.TranscodeRequest, results []domain.VersionResult) ([]byte, error) {
	info := make(map[string]versionMetaWire, len(results))
	for _, r := range results {
		info[string(r.Label)] = versionMetaWire{Container: r.Container, Succeeded: r.Succeeded, Detail: r.Detail}
	}
	return json.Marshal(successReply{
		ResourceID:    req.ResourceID,
		UserID:        req.UserID,
		LastUploadReq: req.LastUploadReq,
		Info:          info,
	})
}

func encodeErrorReply(errInfo *domain.ErrorInfo, now time.Time) ([]byte, error) {
	return json.Marshal(errorReply{
		Kind:      string(errInfo.Kind()),
		Message:   errInfo.Message(),
		Timestamp: now.Unix(),
	})
}
