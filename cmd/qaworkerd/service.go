package main

import (
	"qaworker/internal/backend"
	"qaworker/internal/pool"
	"qaworker/internal/worker"
	"qaworker/pkg/types"
)

// service adapts the pool to the admin API and builds standalone workers for
// remote coordinator connections.
type service struct {
	pool       *pool.Pool
	newBackend func() (backend.Backend, error)
	workerCfg  worker.Config
}

func (s *service) Status() types.StatusResponse { return s.pool.Status() }
func (s *service) Ready() bool                  { return s.pool.Ready() }
func (s *service) Models() []string             { return s.pool.Models() }
func (s *service) Resident() []string           { return s.pool.Resident() }
func (s *service) Unload(id string) bool        { return s.pool.Unload(id) }

func (s *service) NewWorker() (*worker.Worker, error) {
	be, err := s.newBackend()
	if err != nil {
		return nil, err
	}
	cfg := s.workerCfg
	cfg.Backend = be
	return worker.New(cfg)
}
