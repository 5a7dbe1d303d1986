package reconcile

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"lsmirror/internal/files"
	"lsmirror/internal/models"
)

var (
	// ErrInvalidRecord is returned for export entries that are not JSON objects.
	ErrInvalidRecord = errors.New("invalid export record")
	// ErrMissingID is returned for export entries without a task id.
	ErrMissingID = errors.New("export record has no id")
)

// imagePath returns where the export format keeps the image reference.
func imagePath(format models.ExportFormat) string {
	if format.Minimal() {
		return "image"
	}
	return "data.image"
}

// Normalize turns one exported task into a snapshot record: the task id becomes
// the primary key and "data" is replaced by the original and rewritten image
// URLs. The second return value is false when the task carries no image; such
// records keep their payload untouched apart from the key.
func Normalize(raw []byte, format models.ExportFormat, rewriter *files.Rewriter) (models.Record, bool, error) {
	var rec models.Record
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return rec, false, ErrInvalidRecord
	}

	idRes := gjson.GetBytes(raw, "id")
	if !idRes.Exists() || idRes.Type == gjson.Null || idRes.String() == "" {
		return rec, false, ErrMissingID
	}
	rec.ID = idRes.String()

	doc, err := sjson.SetRawBytes(raw, "_id", []byte(idRes.Raw))
	if err != nil {
		return rec, false, fmt.Errorf("set _id on task %s: %w", rec.ID, err)
	}

	img := gjson.GetBytes(raw, imagePath(format))
	hasImage := img.Exists() && img.Type == gjson.String
	if hasImage {
		original := img.String()
		doc, err = sjson.SetBytes(doc, "data", map[string]string{
			"_image": rewriter.ToExternal(original),
			"image":  original,
		})
		if err != nil {
			return rec, false, fmt.Errorf("set data on task %s: %w", rec.ID, err)
		}
		if format.Minimal() {
			doc, err = sjson.DeleteBytes(doc, "image")
			if err != nil {
				return rec, false, fmt.Errorf("move image on task %s: %w", rec.ID, err)
			}
		}
	}

	rec.Doc = doc
	rec.Annotated = isAnnotated(doc, format)
	return rec, hasImage, nil
}

// isAnnotated mirrors the remote num_tasks_with_annotations counter. Full exports
// carry an annotations array; JSON_MIN flattens the first annotation into root
// keys and marks it with annotation_id.
func isAnnotated(doc []byte, format models.ExportFormat) bool {
	if format.Minimal() {
		id := gjson.GetBytes(doc, "annotation_id")
		return id.Exists() && id.Type != gjson.Null
	}
	annotations := gjson.GetBytes(doc, "annotations")
	return annotations.IsArray() && len(annotations.Array()) > 0
}
