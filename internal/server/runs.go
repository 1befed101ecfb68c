// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"github.com/netSkope/phantom-qa-tool/internal/publish"
)

const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
)

type runState struct {
	id        string
	request   publish.Request
	status    string
	logs      []string
	err       error
	result    *publish.Result
	createdAt time.Time
}

type runView struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Request   publish.Request `json:"request"`
	Logs      []string        `json:"logs,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Result    *publish.Result `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newRunID() string {
	return uuid.NewString()
}

func newRunState(id string, req publish.Request) *runState {
	return &runState{
		id:        id,
		request:   req,
		status:    statusRunning,
		createdAt: time.Now().UTC(),
	}
}

func (r *runState) finish(res *publish.Result, err error) {
	r.result = res
	r.err = err
	if err != nil {
		r.status = statusFailed
		return
	}
	r.status = statusSucceeded
}

// view copies the state for encoding. Caller holds the server lock.
func (r *runState) view() runView {
	v := runView{
		ID:        r.id,
		Status:    r.status,
		Request:   r.request,
		Logs:      append([]string(nil), r.logs...),
		Result:    r.result,
		CreatedAt: r.createdAt,
	}
	if r.err != nil {
		v.Error = r.err.Error()
		v.ErrorKind = apperr.KindOf(r.err).String()
	}
	return v
}
