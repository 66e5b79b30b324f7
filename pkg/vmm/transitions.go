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

// Operation names a lifecycle operation subject to the transition table.
type Operation string

const (
	OpStart        Operation = "start"
	OpGracefulStop Operation = "graceful-stop"
	OpForceStop    Operation = "force-stop"
	OpSuspend      Operation = "suspend"
	OpResume       Operation = "resume"
	OpDelete       Operation = "delete"
)

// transitions maps an operation and the current state to nil when the
// operation is legal, or to the refusal otherwise. StateUnknown never
// permits anything.
var transitions = map[Operation]map[State]error{
	OpStart: {
		StateShutOff: nil,
		StateRunning: ErrAlreadyRunning,
		StatePaused:  ErrPaused,
		StateUnknown: ErrUnknownState,
	},
	OpGracefulStop: {
		StateShutOff: ErrNotRunning,
		StateRunning: nil,
		StatePaused:  ErrNotRunning,
		StateUnknown: ErrUnknownState,
	},
	OpForceStop: {
		StateShutOff: ErrNotRunning,
		StateRunning: nil,
		StatePaused:  nil,
		StateUnknown: ErrUnknownState,
	},
	OpSuspend: {
		StateShutOff: ErrNotRunning,
		StateRunning: nil,
		StatePaused:  ErrAlreadySuspended,
		StateUnknown: ErrUnknownState,
	},
	OpResume: {
		StateShutOff: ErrNotPaused,
		StateRunning: ErrAlreadyRunning,
		StatePaused:  nil,
		StateUnknown: ErrUnknownState,
	},
	OpDelete: {
		StateShutOff: nil,
		StateRunning: ErrCannotDeleteRunning,
		StatePaused:  ErrCannotDeleteRunning,
		StateUnknown: ErrUnknownState,
	},
}

// commands maps a legal operation to the hypervisor command it issues.
var commands = map[Operation]Command{
	OpStart:        CommandStart,
	OpGracefulStop: CommandShutdown,
	OpForceStop:    CommandDestroy,
	OpSuspend:      CommandSuspend,
	OpResume:       CommandResume,
	OpDelete:       CommandUndefine,
}

// CheckTransition returns nil when op is legal from state. Operations or
// states missing from the table are refused.
func CheckTransition(op Operation, state State) error {
	row, ok := transitions[op]
	if !ok {
		return ErrInvalidTransition
	}
	err, ok := row[state]
	if !ok {
		return ErrUnknownState
	}
	return err
}
