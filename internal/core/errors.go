package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotOwner is returned when a user acts on a project they do not own.
	ErrNotOwner = errors.New("user does not own project")
	// ErrProjectQuarantined is returned for billable or genome-changing calls
	// on a quarantined project.
	ErrProjectQuarantined = errors.New("project is quarantined")
	// ErrNoChanges is returned when mutations leave the genome unchanged.
	ErrNoChanges = errors.New("mutations changed nothing")
)

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
