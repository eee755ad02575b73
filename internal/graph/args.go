package graph

import (
	"strconv"

	"github.com/eaverdeja/blograph/internal/apperr"
	"github.com/eaverdeja/blograph/internal/pipeline"
	"github.com/eaverdeja/blograph/internal/projection"
	"github.com/eaverdeja/blograph/internal/storage"
)

// Selected names that are resolved by their own lookups rather than read
// from the parent row.
var relations = map[storage.Entity][]string{
	storage.User: {"posts"},
	storage.Post: {"comments"},
}

func idArg(args map[string]any, name string) (int64, error) {
	s, _ := args[name].(string)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, apperr.Validation("%s must be a numeric id, got %q", name, s)
	}
	return id, nil
}

func inputArg(args map[string]any) map[string]any {
	in, _ := args["input"].(map[string]any)
	return in
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// page reads first and offset. ok is false when nothing can be returned.
func page(args map[string]any) (limit, offset uint64, ok bool, err error) {
	first, _ := args["first"].(int)
	skip, _ := args["offset"].(int)
	if first < 0 {
		return 0, 0, false, apperr.Validation("first must not be negative, got %d", first)
	}
	if skip < 0 {
		return 0, 0, false, apperr.Validation("offset must not be negative, got %d", skip)
	}
	return uint64(first), uint64(skip), first > 0, nil
}

// project computes the attributes of entity the field's selection needs.
func project(p pipeline.Params, entity storage.Entity, keep ...string) ([]string, error) {
	attrs, err := p.Request.Projection.Compute(p.Info.Selection(), projection.Options{
		Keep:    keep,
		Exclude: relations[entity],
	})
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	return attrs, nil
}

// only copies the listed keys present in in.
func only(in map[string]any, keys ...string) storage.Values {
	out := make(storage.Values, len(keys))
	for _, k := range keys {
		if v, ok := in[k]; ok {
			out[k] = v
		}
	}
	return out
}

// viewerID is only meaningful behind Authenticate.
func viewerID(p pipeline.Params) int64 {
	if v := p.Request.Viewer; v != nil {
		return v.ID
	}
	return 0
}
