package triggers

import (
	"fmt"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
)

type Op string

const (
	OpSet           Op = "set"
	OpUpdate        Op = "update"
	OpDelete        Op = "delete"
	OpDeleteObject  Op = "delete_object"
	OpDeleteObjects Op = "delete_objects"
)

// PendingWrite is one write proposed by a handler. Handlers never write
// directly; the applier executes the list in order.
type PendingWrite struct {
	Op     Op              `json:"op"`
	Path   docstore.Path   `json:"path,omitempty"`
	Fields docstore.Fields `json:"fields,omitempty"`
	// Object is the object key for OpDeleteObject or the key prefix for OpDeleteObjects.
	Object string `json:"object,omitempty"`
	// IfChanged skips the write when the stored document already holds these values.
	IfChanged bool   `json:"ifChanged,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func Set(path docstore.Path, fields docstore.Fields, reason string) PendingWrite {
	return PendingWrite{Op: OpSet, Path: path, Fields: fields, Reason: reason}
}

func Update(path docstore.Path, fields docstore.Fields, reason string) PendingWrite {
	return PendingWrite{Op: OpUpdate, Path: path, Fields: fields, Reason: reason}
}

func Delete(path docstore.Path, reason string) PendingWrite {
	return PendingWrite{Op: OpDelete, Path: path, Reason: reason}
}

func DeleteObject(key, reason string) PendingWrite {
	return PendingWrite{Op: OpDeleteObject, Object: key, Reason: reason}
}

func DeleteObjects(prefix, reason string) PendingWrite {
	return PendingWrite{Op: OpDeleteObjects, Object: prefix, Reason: reason}
}

// OnlyIfChanged marks the write conditional.
func (w PendingWrite) OnlyIfChanged() PendingWrite {
	w.IfChanged = true
	return w
}

func (w PendingWrite) IsObjectOp() bool {
	return w.Op == OpDeleteObject || w.Op == OpDeleteObjects
}

func (w PendingWrite) String() string {
	target := w.Path.String()
	if w.IsObjectOp() {
		target = w.Object
	}
	return fmt.Sprintf("%s %s (%s)", w.Op, target, w.Reason)
}
