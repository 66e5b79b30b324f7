/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vmm

import (
	"errors"
	"fmt"

	"github.com/amine-kherroubi/vcl/pkg/disk"
)

var (
	ErrConnectionFailed    = errors.New("failed to connect to hypervisor")
	ErrNotFound            = errors.New("VM not found")
	ErrAlreadyExists       = errors.New("VM already exists")
	ErrInvalidParameters   = errors.New("invalid VM parameters")
	ErrInvalidTransition   = errors.New("invalid lifecycle transition")
	ErrCannotDeleteRunning = errors.New("cannot delete an active VM, force-stop it first")
	ErrDefinitionFailed    = errors.New("failed to define VM")
	ErrAgentUnavailable    = errors.New("guest agent unavailable")
	ErrOperationFailed     = errors.New("hypervisor operation failed")

	// Disk artifact errors are shared with the disk package so callers can
	// match them without importing it.
	ErrDiskCreationFailed = disk.ErrCreationFailed
	ErrDeletionFailed     = disk.ErrDeletionFailed
	ErrDiskNotFound       = disk.ErrNotFound
)

// Transition refusals. Each one wraps ErrInvalidTransition.
var (
	ErrAlreadyRunning   = fmt.Errorf("%w: VM already running", ErrInvalidTransition)
	ErrAlreadySuspended = fmt.Errorf("%w: VM already suspended", ErrInvalidTransition)
	ErrNotRunning       = fmt.Errorf("%w: VM not running", ErrInvalidTransition)
	ErrNotPaused        = fmt.Errorf("%w: VM not paused", ErrInvalidTransition)
	ErrPaused           = fmt.Errorf("%w: VM is paused, resume it instead", ErrInvalidTransition)
	ErrUnknownState     = fmt.Errorf("%w: VM state unknown, re-read it first", ErrInvalidTransition)

	ErrNotConnected = fmt.Errorf("%w: not connected", ErrOperationFailed)
)

// DefinitionError is returned by Create when the hypervisor rejects the
// descriptor. The disk artifact has already been ensured at that point and is
// left in place; DiskCreated tells whether this call created it.
type DefinitionError struct {
	Name        string
	DiskPath    string
	DiskCreated bool
	Err         error
}

func (e *DefinitionError) Error() string {
	state := "pre-existing"
	if e.DiskCreated {
		state = "newly created"
	}
	return fmt.Sprintf("%s: vmName=%s: %v (%s disk artifact left at %s)",
		ErrDefinitionFailed, e.Name, e.Err, state, e.DiskPath)
}

func (e *DefinitionError) Unwrap() []error {
	return []error{ErrDefinitionFailed, e.Err}
}
