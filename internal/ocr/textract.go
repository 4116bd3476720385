package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/yifanzh/structpdf/internal/models"
	"github.com/yifanzh/structpdf/pkg/logger"
)

// TextractConfig configures the AWS Textract backend.
type TextractConfig struct {
	Region    string
	AccessKey string
	SecretKey string
}

// TextractGateway extracts text with AWS Textract. The SDK handles
// throttling retries internally; errors left over are classified here.
type TextractGateway struct {
	client *textract.Client
	logger logger.Logger
}

func NewTextractGateway(ctx context.Context, cfg TextractConfig, log logger.Logger) (*TextractGateway, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &TextractGateway{
		client: textract.NewFromConfig(awsCfg),
		logger: log,
	}, nil
}

func (g *TextractGateway) ExtractText(ctx context.Context, img image.Image) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", fmt.Errorf("%w: encode image: %v", models.ErrOCRInput, err)
	}

	out, err := g.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{
			Bytes: data,
		},
	})
	if err != nil {
		return "", classifyTextractError(err)
	}

	var lines []string
	for _, block := range out.Blocks {
		if block.BlockType == types.BlockTypeLine && block.Text != nil {
			lines = append(lines, *block.Text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (g *TextractGateway) Close() error {
	return nil
}

func classifyTextractError(err error) error {
	var badDoc *types.BadDocumentException
	var unsupported *types.UnsupportedDocumentException
	var invalid *types.InvalidParameterException
	if errors.As(err, &badDoc) || errors.As(err, &unsupported) || errors.As(err, &invalid) {
		return fmt.Errorf("%w: %v", models.ErrOCRInput, err)
	}
	return fmt.Errorf("%w: %v", models.ErrOCRUnavailable, err)
}
