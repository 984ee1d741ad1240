package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smorand/prompt2slides/internal/parser"
	"google.golang.org/api/slides/v1"
)

// pointsPerEMU converts points to EMU (English Metric Units). 1 point = 12700 EMU.
const pointsPerEMU = 12700.0

func pointsToEMU(points float64) float64 {
	return points * pointsPerEMU
}

// Geometry for the synthesized placeholder boxes, in points on the default
// 720x405pt slide canvas.
const (
	imageBoxX      = 380.0
	imageBoxY      = 330.0
	imageBoxWidth  = 320.0
	imageBoxHeight = 60.0

	notesBoxX      = 20.0
	notesBoxY      = 355.0
	notesBoxWidth  = 680.0
	notesBoxHeight = 40.0
)

// slideObjectID returns the synthetic object id assigned to slide index
// (0-based). Assigning ids client-side lets later phases address slides
// without re-querying; Google Slides accepts ids that start with a letter.
func slideObjectID(index int) string {
	return fmt.Sprintf("slide_%d", index)
}

func imageBoxObjectID(index int) string {
	return fmt.Sprintf("imagebox_%d", index)
}

func notesBoxObjectID(index int) string {
	return fmt.Sprintf("notesbox_%d", index)
}

// buildSlideShellRequests creates one TITLE_AND_BODY slide per record, each
// with a predictable object id. Insertion starts at index 1 because the
// API-seeded default slide still occupies index 0 until Phase 3 deletes it.
func buildSlideShellRequests(count int) []*slides.Request {
	requests := make([]*slides.Request, 0, count)
	for i := 0; i < count; i++ {
		requests = append(requests, &slides.Request{
			CreateSlide: &slides.CreateSlideRequest{
				ObjectId:       slideObjectID(i),
				InsertionIndex: int64(i + 1),
				SlideLayoutReference: &slides.LayoutReference{
					PredefinedLayout: "TITLE_AND_BODY",
				},
			},
		})
	}
	return requests
}

// slidePlaceholders holds the resolved element ids of a slide's title and
// body placeholders. Either may be empty when the layout lacks it.
type slidePlaceholders struct {
	titleID string
	bodyID  string
}

// resolvePlaceholders maps slide object ids to their placeholder element ids.
// Placeholder ids are assigned server-side, so this can only run after a
// round-trip fetch of the created slides.
func resolvePlaceholders(presentation *slides.Presentation) map[string]slidePlaceholders {
	resolved := make(map[string]slidePlaceholders, len(presentation.Slides))

	for _, slide := range presentation.Slides {
		var ph slidePlaceholders
		for _, element := range slide.PageElements {
			if element.Shape == nil || element.Shape.Placeholder == nil {
				continue
			}
			switch element.Shape.Placeholder.Type {
			case "TITLE", "CENTERED_TITLE":
				if ph.titleID == "" {
					ph.titleID = element.ObjectId
				}
			case "BODY":
				if ph.bodyID == "" {
					ph.bodyID = element.ObjectId
				}
			}
		}
		resolved[slide.ObjectId] = ph
	}

	return resolved
}

// buildContentRequests populates one slide's title and body placeholders.
// A missing placeholder is skipped rather than treated as fatal.
func buildContentRequests(record parser.SlideRecord, ph slidePlaceholders) []*slides.Request {
	var requests []*slides.Request

	if ph.titleID != "" && record.Title != "" {
		requests = append(requests, &slides.Request{
			InsertText: &slides.InsertTextRequest{
				ObjectId:       ph.titleID,
				InsertionIndex: 0,
				Text:           record.Title,
			},
		})
	}

	if ph.bodyID != "" && record.Content != "" {
		requests = append(requests, &slides.Request{
			InsertText: &slides.InsertTextRequest{
				ObjectId:       ph.bodyID,
				InsertionIndex: 0,
				Text:           record.Content,
			},
		})

		if parser.HasListMarkers(record.Content) {
			requests = append(requests, &slides.Request{
				CreateParagraphBullets: &slides.CreateParagraphBulletsRequest{
					ObjectId:     ph.bodyID,
					TextRange:    &slides.Range{Type: "ALL"},
					BulletPreset: "BULLET_DISC_CIRCLE_SQUARE",
				},
			})
		}
	}

	return requests
}

// buildImagePromptBoxRequests synthesizes a decorated rectangle carrying the
// image prompt text. It is a visible placeholder for a later image-generation
// pass, not an actual image.
func buildImagePromptBoxRequests(index int, slideID, prompt string) []*slides.Request {
	objectID := imageBoxObjectID(index)

	return []*slides.Request{
		{
			CreateShape: &slides.CreateShapeRequest{
				ObjectId:  objectID,
				ShapeType: "RECTANGLE",
				ElementProperties: elementPropertiesAt(
					slideID, imageBoxX, imageBoxY, imageBoxWidth, imageBoxHeight),
			},
		},
		{
			UpdateShapeProperties: &slides.UpdateShapePropertiesRequest{
				ObjectId: objectID,
				ShapeProperties: &slides.ShapeProperties{
					ShapeBackgroundFill: &slides.ShapeBackgroundFill{
						SolidFill: &slides.SolidFill{
							Color: &slides.OpaqueColor{
								RgbColor: &slides.RgbColor{Red: 0.93, Green: 0.95, Blue: 1.0},
							},
						},
					},
					Outline: &slides.Outline{
						OutlineFill: &slides.OutlineFill{
							SolidFill: &slides.SolidFill{
								Color: &slides.OpaqueColor{
									RgbColor: &slides.RgbColor{Red: 0.26, Green: 0.52, Blue: 0.96},
								},
							},
						},
						Weight:    &slides.Dimension{Magnitude: 1, Unit: "PT"},
						DashStyle: "DASH",
					},
				},
				Fields: "shapeBackgroundFill.solidFill.color,outline",
			},
		},
		{
			InsertText: &slides.InsertTextRequest{
				ObjectId:       objectID,
				InsertionIndex: 0,
				Text:           "IMAGE: " + prompt,
			},
		},
		{
			UpdateTextStyle: &slides.UpdateTextStyleRequest{
				ObjectId:  objectID,
				TextRange: &slides.Range{Type: "ALL"},
				Style: &slides.TextStyle{
					Italic:   true,
					FontSize: &slides.Dimension{Magnitude: 10, Unit: "PT"},
					ForegroundColor: &slides.OptionalColor{
						OpaqueColor: &slides.OpaqueColor{
							RgbColor: &slides.RgbColor{Red: 0.26, Green: 0.52, Blue: 0.96},
						},
					},
				},
				Fields: "italic,fontSize,foregroundColor",
			},
		},
	}
}

// buildNotesInsertRequest inserts speaker notes into a resolved notes-page
// body shape. Freshly created decks have empty notes shapes, so a plain
// insert at index 0 suffices.
func buildNotesInsertRequest(shapeID, notes string) *slides.Request {
	return &slides.Request{
		InsertText: &slides.InsertTextRequest{
			ObjectId:       shapeID,
			InsertionIndex: 0,
			Text:           notes,
		},
	}
}

// buildNotesFallbackRequests places speaker notes in a small de-emphasized
// text box on the slide itself when the notes page cannot be resolved.
// A deck without notes is still a useful deck; a deck that silently dropped
// them is not.
func buildNotesFallbackRequests(index int, slideID, notes string) []*slides.Request {
	objectID := notesBoxObjectID(index)

	return []*slides.Request{
		{
			CreateShape: &slides.CreateShapeRequest{
				ObjectId:  objectID,
				ShapeType: "TEXT_BOX",
				ElementProperties: elementPropertiesAt(
					slideID, notesBoxX, notesBoxY, notesBoxWidth, notesBoxHeight),
			},
		},
		{
			InsertText: &slides.InsertTextRequest{
				ObjectId:       objectID,
				InsertionIndex: 0,
				Text:           "NOTES: " + notes,
			},
		},
		{
			UpdateTextStyle: &slides.UpdateTextStyleRequest{
				ObjectId:  objectID,
				TextRange: &slides.Range{Type: "ALL"},
				Style: &slides.TextStyle{
					Italic:   true,
					FontSize: &slides.Dimension{Magnitude: 9, Unit: "PT"},
					ForegroundColor: &slides.OptionalColor{
						OpaqueColor: &slides.OpaqueColor{
							RgbColor: &slides.RgbColor{Red: 0.55, Green: 0.55, Blue: 0.55},
						},
					},
				},
				Fields: "italic,fontSize,foregroundColor",
			},
		},
	}
}

// elementPropertiesAt builds page element properties for a box at the given
// position and size in points.
func elementPropertiesAt(pageID string, x, y, width, height float64) *slides.PageElementProperties {
	return &slides.PageElementProperties{
		PageObjectId: pageID,
		Size: &slides.Size{
			Width:  &slides.Dimension{Magnitude: pointsToEMU(width), Unit: "EMU"},
			Height: &slides.Dimension{Magnitude: pointsToEMU(height), Unit: "EMU"},
		},
		Transform: &slides.AffineTransform{
			ScaleX:     1,
			ScaleY:     1,
			TranslateX: pointsToEMU(x),
			TranslateY: pointsToEMU(y),
			Unit:       "EMU",
		},
	}
}

// findNotesBodyShape locates the BODY placeholder on a notes page and returns
// its object id, or "" when the page has no usable shape.
func findNotesBodyShape(notesPage *slides.Page) string {
	if notesPage == nil {
		return ""
	}

	for _, element := range notesPage.PageElements {
		if element.Shape != nil && element.Shape.Placeholder != nil &&
			element.Shape.Placeholder.Type == "BODY" {
			return element.ObjectId
		}
	}

	// Fallback: any non-placeholder text shape on the notes page.
	for _, element := range notesPage.PageElements {
		if element.Shape == nil {
			continue
		}
		if element.Shape.Placeholder != nil && element.Shape.Placeholder.Type != "BODY" {
			continue
		}
		return element.ObjectId
	}

	return ""
}

// describeRequests summarizes a request batch for logging.
func describeRequests(requests []*slides.Request) string {
	counts := make(map[string]int)
	for _, r := range requests {
		switch {
		case r.CreateSlide != nil:
			counts["createSlide"]++
		case r.InsertText != nil:
			counts["insertText"]++
		case r.CreateParagraphBullets != nil:
			counts["createParagraphBullets"]++
		case r.CreateShape != nil:
			counts["createShape"]++
		case r.UpdateShapeProperties != nil:
			counts["updateShapeProperties"]++
		case r.UpdateTextStyle != nil:
			counts["updateTextStyle"]++
		case r.DeleteObject != nil:
			counts["deleteObject"]++
		default:
			counts["other"]++
		}
	}

	parts := make([]string, 0, len(counts))
	for kind, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
