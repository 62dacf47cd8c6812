package content

import "github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"

// Header projects the mirrored subset of a resource. Fields absent on the
// source are absent on the header so a full Set drops stale values.
func Header(source *docstore.Snapshot, fields []string) docstore.Fields {
	if len(fields) == 0 {
		fields = HeaderFields
	}
	out := docstore.Fields{FieldResourcePath: source.Path.String()}
	for _, f := range fields {
		if v, ok := source.Lookup(f); ok {
			out[f] = v
		}
	}
	return out
}
