// Package ipc exposes the daemon over D-Bus as org.freedesktop.Visage1.
// Every method handler snapshots whatever store state it needs, calls
// into the engine without holding any lock, and translates engine/store
// errors into dbus.Error replies.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/sovren-software/visage/internal/config"
	"github.com/sovren-software/visage/internal/engine"
	"github.com/sovren-software/visage/internal/store"
	"github.com/sovren-software/visage/internal/types"
)

const (
	busName      = "org.freedesktop.Visage1"
	objectPath   = "/org/freedesktop/Visage1"
	ifaceName    = "org.freedesktop.Visage1"
	daemonVersion = "1.0.0"
)

// Service is the exported D-Bus object backing org.freedesktop.Visage1.
type Service struct {
	engine *engine.EngineHandle
	store  *store.Store
	cfg    *config.Config
	log    *logrus.Entry
}

// modelInfo is one ListModels entry, matching spec.md §6's JSON shape.
type modelInfo struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	QualityScore float32   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// statusInfo is the Status method's JSON payload.
type statusInfo struct {
	Version             string  `json:"version"`
	Camera               string  `json:"camera"`
	ModelsEnrolled       int     `json:"models_enrolled"`
	SimilarityThreshold  float32 `json:"similarity_threshold"`
}

// New builds the service object. Serve must be called to register it
// on the bus.
func New(eng *engine.EngineHandle, st *store.Store, cfg *config.Config, log *logrus.Entry) *Service {
	return &Service{engine: eng, store: st, cfg: cfg, log: log}
}

// Serve connects to the configured bus, requests the well-known name,
// and exports the service object. The returned conn must be closed on
// shutdown.
func Serve(svc *Service) (*dbus.Conn, error) {
	var conn *dbus.Conn
	var err error
	if svc.cfg.SessionBus {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("ipc: connect to bus: %w", err)
	}

	if err := conn.Export(svc, objectPath, ifaceName); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: export object: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: request name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("ipc: bus name %s already owned", busName)
	}

	svc.log.WithField("bus_name", busName).Info("IPC service registered")
	return conn, nil
}

// Enroll captures frames_per_enroll frames from the engine, stores the
// winning embedding under user/label, and returns the new template id.
func (s *Service) Enroll(user, label string) (string, *dbus.Error) {
	embedding, quality, err := s.engine.Enroll(s.cfg.FramesPerEnroll)
	if err != nil {
		return "", toDBusError(err)
	}

	tmpl, err := s.store.Insert(types.FaceTemplate{
		Username:     user,
		Label:        label,
		Embedding:    embedding,
		QualityScore: quality,
	})
	if err != nil {
		return "", dbus.NewError(ifaceName+".StoreError", []interface{}{err.Error()})
	}

	s.log.WithFields(logrus.Fields{"user": user, "template_id": tmpl.ID}).Info("enrolled new template")
	return tmpl.ID, nil
}

// Verify snapshots user's gallery, asks the engine to capture and
// compare frames_per_verify frames against it, and reports a match.
func (s *Service) Verify(user string) (bool, *dbus.Error) {
	gallery, err := s.store.GalleryFor(user)
	if err != nil {
		return false, dbus.NewError(ifaceName+".StoreError", []interface{}{err.Error()})
	}
	if len(gallery) == 0 {
		return false, dbus.NewError(ifaceName+".NoEnrolledTemplates", []interface{}{fmt.Sprintf("no templates enrolled for %s", user)})
	}

	result, _, err := s.engine.VerifyWithTimeout(gallery, s.cfg.SimilarityThreshold, s.cfg.FramesPerVerify, s.cfg.VerifyTimeout)
	if err != nil {
		if engErr, ok := err.(*engine.Error); ok && engErr.Kind == engine.ErrTimeout {
			return false, dbus.NewError(ifaceName+".Timeout", []interface{}{engErr.Error()})
		}
		return false, toDBusError(err)
	}
	return result.Matched, nil
}

// ListModels returns every template enrolled for user as a JSON array.
func (s *Service) ListModels(user string) (string, *dbus.Error) {
	gallery, err := s.store.GalleryFor(user)
	if err != nil {
		return "", dbus.NewError(ifaceName+".StoreError", []interface{}{err.Error()})
	}

	models := make([]modelInfo, 0, len(gallery))
	for _, tmpl := range gallery {
		models = append(models, modelInfo{
			ID:           tmpl.ID,
			Label:        tmpl.Label,
			QualityScore: tmpl.QualityScore,
			CreatedAt:    tmpl.CreatedAt,
		})
	}

	raw, jsonErr := json.Marshal(models)
	if jsonErr != nil {
		return "", dbus.NewError(ifaceName+".StoreError", []interface{}{jsonErr.Error()})
	}
	return string(raw), nil
}

// RemoveModel deletes modelID, provided it belongs to user.
func (s *Service) RemoveModel(user, modelID string) (bool, *dbus.Error) {
	ok, err := s.store.Remove(user, modelID)
	if err != nil {
		return false, dbus.NewError(ifaceName+".StoreError", []interface{}{err.Error()})
	}
	return ok, nil
}

// Status reports daemon-wide state as JSON. Never fails.
func (s *Service) Status() (string, *dbus.Error) {
	count, err := s.store.CountAll()
	if err != nil {
		s.log.WithError(err).Warn("status: count query failed")
	}

	info := statusInfo{
		Version:             daemonVersion,
		Camera:               s.cfg.CameraDevice,
		ModelsEnrolled:       count,
		SimilarityThreshold:  s.cfg.SimilarityThreshold,
	}
	raw, jsonErr := json.Marshal(info)
	if jsonErr != nil {
		return "{}", nil
	}
	return string(raw), nil
}

// toDBusError maps an internal error to the generic
// org.freedesktop.Visage1.Failed error, carrying the error's text as
// its message. The error kind is not encoded in the error name.
func toDBusError(err error) *dbus.Error {
	return dbus.NewError(ifaceName+".Failed", []interface{}{err.Error()})
}
