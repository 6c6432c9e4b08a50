package ocr

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
)

// VisionClient recognizes text with Google Cloud Vision TEXT_DETECTION.
// One client is shared by every worker; the underlying gRPC connection is
// safe for concurrent use.
type VisionClient struct {
	client *vision.ImageAnnotatorClient
}

// NewVisionClient dials Cloud Vision using Application Default Credentials.
func NewVisionClient(ctx context.Context) (*VisionClient, error) {
	c, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	return &VisionClient{client: c}, nil
}

func (v *VisionClient) Recognize(ctx context.Context, image []byte) (string, error) {
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: image},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", Wrap("vision", err)
	}
	return primaryText(resp)
}

// primaryText picks the first annotation, which Vision fills with the full
// detected text block.
func primaryText(resp *visionpb.BatchAnnotateImagesResponse) (string, error) {
	if resp == nil || len(resp.GetResponses()) == 0 {
		return "", nil
	}
	r := resp.GetResponses()[0]
	return annotationText(r.GetError().GetMessage(), r.GetTextAnnotations())
}

func annotationText(errMsg string, texts []*visionpb.EntityAnnotation) (string, error) {
	if errMsg != "" {
		return "", &ServiceError{Backend: "vision", Message: errMsg}
	}
	if len(texts) == 0 {
		return "", nil
	}
	return texts[0].GetDescription(), nil
}

// Close releases the gRPC connection.
func (v *VisionClient) Close() error {
	return v.client.Close()
}
