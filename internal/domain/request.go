package domain

// VersionLabel identifies one transcoded output variant of a source. Always
// exactly 4 printable ASCII characters.
type VersionLabel string

func (v VersionLabel) Valid() bool {
	if len(v) != 4 {
		return false
	}
	for _, r := range v {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

// VersionSpec is the per-output-variant portion of a transcode request.
type VersionSpec struct {
	Container      string `json:"container"`
	StorageAlias   string `json:"storage_alias"`
	FallbackFormat string `json:"-"`
	IsUpdate       bool   `json:"-"`

	// MaskPattern names the overlay mask an image-destination output uses,
	// looked up in the configured mask index. Ignored by every other
	// container.
	MaskPattern string `json:"mask_pattern,omitempty"`
}

// TranscodeRequest is the decoded form of the RPC request envelope described
// by the transcode_video_file routing key.
type TranscodeRequest struct {
	ResourceID     string                       `json:"resource_id"`
	ResIDEncoded   string                       `json:"res_id_encoded"`
	MetadataDB     string                       `json:"metadata_db"`
	StorageAlias   string                       `json:"storage_alias"`
	UserID         uint32                       `json:"usr_id"`
	LastUploadReq  uint32                       `json:"last_upld_req"`
	PartsSize      []uint32                     `json:"parts_size"`
	ElementaryStrm map[string]any               `json:"elementary_streams"`
	Outputs        map[VersionLabel]VersionSpec `json:"outputs"`
}

// Validate performs the structural checks spec.md §7 classifies as
// ErrKindValidation failures.
func (r *TranscodeRequest) Validate() error {
	if r.ResourceID == "" {
		return NewKindError(ErrKindValidation, "missing resource_id")
	}
	if len(r.PartsSize) == 0 {
		return NewKindError(ErrKindValidation, "parts_size must list at least one chunk")
	}
	if len(r.Outputs) == 0 {
		return NewKindError(ErrKindValidation, "outputs must list at least one version")
	}
	for label := range r.Outputs {
		if !label.Valid() {
			return NewKindError(ErrKindValidation, "version label %q must be 4 printable ASCII characters", label)
		}
	}
	return nil
}

// TotalSourceBytes sums parts_size, the source length used to bound mdat
// pre-loads.
func (r *TranscodeRequest) TotalSourceBytes() uint64 {
	var total uint64
	for _, sz := range r.PartsSize {
		total += uint64(sz)
	}
	return total
}
