package normalize

import (
	"context"
	"fmt"

	"github.com/syssam/dynacrud"
)

// FlattenConnect rewrites {relation: {connect: {id}}} into {field: id}.
// An explicit field value wins over the connector. The nested form is
// removed either way.
func FlattenConnect(relation, field string) Rule {
	return RuleFunc(func(_ context.Context, in *Input) error {
		nested, ok := in.Data[relation].(map[string]any)
		if !ok {
			return nil
		}
		connect, ok := nested["connect"].(map[string]any)
		if !ok {
			return nil
		}
		id := connect[dynacrud.DefaultIDField]
		if id == nil {
			return dynacrud.Validationf(in.Model, relation, "connect requires an id")
		}
		if present(in.Data, field) {
			delete(in.Data, relation)
			return nil
		}
		in.Data[field] = id
		delete(in.Data, relation)
		return nil
	})
}

// BackfillCaller fills field from the caller identity on create when the
// payload does not carry it.
func BackfillCaller(field string) Rule {
	return OnOp(RuleFunc(func(ctx context.Context, in *Input) error {
		if present(in.Data, field) {
			return nil
		}
		if id, ok := dynacrud.CallerID(ctx); ok {
			in.Data[field] = id
		}
		return nil
	}), OpCreate)
}

// RequireString requires field to hold a non-empty string on create.
// On update the field is optional but must still be a string when given.
func RequireString(field string) Rule {
	return RuleFunc(func(_ context.Context, in *Input) error {
		v, ok := in.Data[field]
		if !ok && in.Op.Is(OpUpdate) {
			return nil
		}
		if !ok || v == nil {
			return dynacrud.Validationf(in.Model, field, "is required")
		}
		if s, ok := v.(string); !ok || s == "" {
			return dynacrud.Validationf(in.Model, field, "must be a non-empty string, got %T", v)
		}
		return nil
	})
}

// OwnerExists checks on create that the record referenced by field exists
// in the owner model. A missing owner fails with a *dynacrud.NotFoundError.
func OwnerExists(field, owner string, r dynacrud.Resolver) Rule {
	return OnOp(RuleFunc(func(ctx context.Context, in *Input) error {
		id, ok := in.Data[field]
		if !ok || id == nil {
			return dynacrud.Validationf(in.Model, field, "is required")
		}
		d, err := r.Resolve(owner)
		if err != nil {
			return err
		}
		rec, err := d.FindUnique(ctx, &dynacrud.Query{Where: dynacrud.Where{dynacrud.DefaultIDField: id}})
		if err != nil {
			return dynacrud.NewBadRequestError("create", in.Model, fmt.Errorf("look up %s %v: %w", owner, id, err))
		}
		if rec == nil {
			return dynacrud.NewNotFoundErrorWithID(owner, id)
		}
		return nil
	}), OpCreate)
}

// Defaults returns a Normalizer with the ownership rules of the built-in
// Task, TaskComment and Project models. r resolves the User model for the
// Project owner check.
func Defaults(r dynacrud.Resolver) *Normalizer {
	return New().
		Register("Task",
			FlattenConnect("user", "userId"),
			FlattenConnect("project", "projectId"),
			BackfillCaller("userId"),
			RequireString("userId"),
		).
		Register("TaskComment",
			FlattenConnect("task", "taskId"),
			FlattenConnect("user", "userId"),
			BackfillCaller("userId"),
			RequireString("taskId"),
			RequireString("userId"),
		).
		Register("Project",
			FlattenConnect("owner", "ownerId"),
			BackfillCaller("ownerId"),
			RequireString("ownerId"),
			OwnerExists("ownerId", "User", r),
		)
}

func present(data dynacrud.Record, field string) bool {
	v, ok := data[field]
	return ok && v != nil
}
