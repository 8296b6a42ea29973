package camera

import (
	jsoniter "github.com/json-iterator/go"
)

// Keys stamped onto every frame by an acquiring camera
const (
	KeyCamera      = "Camera"
	KeyStartTime   = "StartTime-ms"
	KeyElapsedTime = "ElapsedTime-ms"
	KeyROIX        = "ROI-X-start"
	KeyROIY        = "ROI-Y-start"
	KeyBinning     = "Binning"
	KeyImageNumber = "ImageNumber"
	KeyRunID       = "RunID"
	KeyExposure    = "Exposure-ms"
	KeyPixelType   = "PixelType"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is the per-frame tag set delivered alongside pixels
type Metadata map[string]string

// Marshal serializes the metadata for FrameSink.Insert
func (m Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetadata parses a blob produced by Metadata.Marshal
func UnmarshalMetadata(b []byte) (Metadata, error) {
	m := Metadata{}
	if len(b) == 0 {
		return m, nil
	}
	err := json.Unmarshal(b, &m)
	return m, err
}
