package ipc

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sovren-software/visage/internal/config"
	"github.com/sovren-software/visage/internal/store"
)

func testService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "faces.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		CameraDevice:        "/dev/video2",
		SimilarityThreshold: 0.40,
		FramesPerVerify:     3,
		FramesPerEnroll:     5,
	}
	log := logrus.NewEntry(logrus.New())
	return New(nil, st, cfg, log)
}

func TestListModelsEmptyGalleryReturnsEmptyArray(t *testing.T) {
	svc := testService(t)
	raw, dbusErr := svc.ListModels("alice")
	if dbusErr != nil {
		t.Fatalf("ListModels() error: %v", dbusErr)
	}
	var models []modelInfo
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(models) != 0 {
		t.Fatalf("expected empty array, got %d entries", len(models))
	}
}

func TestVerifyFailsWithoutEnrolledTemplates(t *testing.T) {
	svc := testService(t)
	matched, dbusErr := svc.Verify("alice")
	if dbusErr == nil {
		t.Fatal("expected an error for a user with no enrolled templates")
	}
	if matched {
		t.Fatal("expected matched=false on error")
	}
}

func TestStatusNeverFails(t *testing.T) {
	svc := testService(t)
	raw, dbusErr := svc.Status()
	if dbusErr != nil {
		t.Fatalf("Status() returned an error: %v", dbusErr)
	}
	var info statusInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if info.Camera != "/dev/video2" {
		t.Fatalf("camera = %q, want /dev/video2", info.Camera)
	}
	if info.SimilarityThreshold != 0.40 {
		t.Fatalf("threshold = %v, want 0.40", info.SimilarityThreshold)
	}
}

func TestRemoveModelFalseForUnknownID(t *testing.T) {
	svc := testService(t)
	ok, dbusErr := svc.RemoveModel("alice", "not-a-real-id")
	if dbusErr != nil {
		t.Fatalf("RemoveModel() error: %v", dbusErr)
	}
	if ok {
		t.Fatal("expected false for an unknown model id")
	}
}
