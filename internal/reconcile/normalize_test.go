package reconcile

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"

	"lsmirror/internal/models"
)

func TestNormalizeFullFormat(t *testing.T) {
	raw := []byte(`{"id": 42, "annotations": [{"id": 1}], "data": {"image": "https://ls.example/data/local-files/?d=foo/bar.png", "caption": "drop me"}}`)

	rec, hasImage, err := Normalize(raw, models.ExportJSON, testRewriter())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !hasImage || rec.ID != "42" || !rec.Annotated {
		t.Fatalf("unexpected record %#v (hasImage=%v)", rec, hasImage)
	}
	if got := gjson.GetBytes(rec.Doc, "_id").Int(); got != 42 {
		t.Fatalf("expected _id 42, got %d", got)
	}
	if got := gjson.GetBytes(rec.Doc, "data._image").String(); got != "https://srv.example/foo/bar.png" {
		t.Fatalf("unexpected rewritten url %q", got)
	}
	if got := gjson.GetBytes(rec.Doc, "data.image").String(); got != "https://ls.example/data/local-files/?d=foo/bar.png" {
		t.Fatalf("unexpected original url %q", got)
	}
	if gjson.GetBytes(rec.Doc, "data.caption").Exists() {
		t.Fatal("expected data to hold only the image pair")
	}
	if !gjson.GetBytes(rec.Doc, "annotations.0.id").Exists() {
		t.Fatal("expected annotation payload preserved")
	}
}

func TestNormalizeMinimalFormat(t *testing.T) {
	raw := []byte(`{"id": 7, "image": "https://ls.example/data/local-files/?d=a.jpg", "choice": "bird", "annotation_id": 3}`)

	rec, hasImage, err := Normalize(raw, models.ExportJSONMin, testRewriter())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !hasImage || !rec.Annotated {
		t.Fatalf("unexpected record %#v (hasImage=%v)", rec, hasImage)
	}
	if got := gjson.GetBytes(rec.Doc, "data._image").String(); got != "https://srv.example/a.jpg" {
		t.Fatalf("unexpected rewritten url %q", got)
	}
	if got := gjson.GetBytes(rec.Doc, "data.image").String(); got != "https://ls.example/data/local-files/?d=a.jpg" {
		t.Fatalf("unexpected original url %q", got)
	}
	if gjson.GetBytes(rec.Doc, "image").Exists() {
		t.Fatal("expected root image field removed")
	}
	if gjson.GetBytes(rec.Doc, "choice").String() != "bird" {
		t.Fatal("expected flattened annotation fields preserved")
	}
}

func TestNormalizeMinimalUnannotated(t *testing.T) {
	rec, _, err := Normalize([]byte(`{"id": 8, "image": "x.jpg"}`), models.ExportJSONMin, testRewriter())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Annotated {
		t.Fatal("expected unannotated record")
	}
}

func TestNormalizeFullIgnoresRootImage(t *testing.T) {
	rec, hasImage, err := Normalize([]byte(`{"id": 9, "image": "root.jpg", "annotations": []}`), models.ExportJSON, testRewriter())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if hasImage || rec.Annotated {
		t.Fatalf("expected no image and no annotation, got %#v hasImage=%v", rec, hasImage)
	}
	if gjson.GetBytes(rec.Doc, "_id").Int() != 9 {
		t.Fatalf("expected _id on record without image: %s", rec.Doc)
	}
}

func TestNormalizeRejectsBadRecords(t *testing.T) {
	if _, _, err := Normalize([]byte(`[1, 2]`), models.ExportJSON, testRewriter()); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if _, _, err := Normalize([]byte(`{"data": {"image": "x"}}`), models.ExportJSON, testRewriter()); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if _, _, err := Normalize([]byte(`{"id": null}`), models.ExportJSON, testRewriter()); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID for null id, got %v", err)
	}
}

func TestNormalizeMinimalNullAnnotationID(t *testing.T) {
	rec, _, err := Normalize([]byte(`{"id": 8, "image": "x.jpg", "annotation_id": null}`), models.ExportJSONMin, testRewriter())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Annotated {
		t.Fatal("expected null annotation_id to count as unannotated")
	}
}
