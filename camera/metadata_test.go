package camera_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/camacq/camera"
)

func TestMetadataBlobParsesBack(t *testing.T) {
	md := camera.Metadata{
		camera.KeyCamera:  "DCam",
		camera.KeyBinning: "2",
		camera.KeyROIX:    "0",
	}
	b, err := md.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := camera.UnmarshalMetadata(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(md, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyBlobIsEmptyMetadata(t *testing.T) {
	md, err := camera.UnmarshalMetadata(nil)
	if err != nil || len(md) != 0 {
		t.Errorf("expected empty metadata and no error, got %v, %v", md, err)
	}
}

func TestAOIEmpty(t *testing.T) {
	if !(camera.AOI{Left: 3, Top: 4}).Empty() {
		t.Error("zero-size AOI should be empty")
	}
	if (camera.AOI{Width: 1}).Empty() {
		t.Error("AOI with width should not be empty")
	}
}
