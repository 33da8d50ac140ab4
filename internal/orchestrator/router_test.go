package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/internal/model"
)

func TestQueueFor(t *testing.T) {
	cases := []struct {
		jobType model.JobType
		queue   string
	}{
		{model.JobTypeOCR, QueueOCR},
		{model.JobTypeThumbnail, QueueThumbnail},
		{model.JobTypeEmbedding, QueueEmbedding},
		{model.JobTypeAIClassify, QueueAIClassify},
		{model.JobTypePDFSplit, QueuePDF},
		{model.JobTypePDFMerge, QueuePDF},
		{model.JobTypePDFWatermark, QueuePDF},
		{model.JobTypePDFCompress, QueuePDF},
		{model.JobTypePDFExtractPages, QueuePDF},
		{model.JobTypePDFRenderPage, QueuePDF},
		{model.JobTypePDFMetadata, QueuePDF},
	}

	for _, tc := range cases {
		name, err := QueueFor(tc.jobType)
		require.NoError(t, err, "type %s", tc.jobType)
		assert.Equal(t, tc.queue, name, "type %s", tc.jobType)
	}
}

func TestQueueFor_UnknownType(t *testing.T) {
	_, err := QueueFor(model.JobType("carrier-pigeon"))
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityFor(model.JobTypeThumbnail))

	assert.Equal(t, PriorityNormal, PriorityFor(model.JobTypeOCR))
	assert.Equal(t, PriorityNormal, PriorityFor(model.JobTypeAIClassify))
	assert.Equal(t, PriorityNormal, PriorityFor(model.JobTypePDFRenderPage))
	assert.Equal(t, PriorityNormal, PriorityFor(model.JobTypePDFMetadata))

	assert.Equal(t, PriorityLow, PriorityFor(model.JobTypeEmbedding))
	assert.Equal(t, PriorityLow, PriorityFor(model.JobTypePDFSplit))
	assert.Equal(t, PriorityLow, PriorityFor(model.JobTypePDFMerge))
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, "ocr-document", KindFor(model.JobTypeOCR))
	assert.Equal(t, "generate-thumbnail", KindFor(model.JobTypeThumbnail))
	assert.Equal(t, "generate-embedding", KindFor(model.JobTypeEmbedding))
	assert.Equal(t, "classify-document", KindFor(model.JobTypeAIClassify))
	assert.Equal(t, "pdf-operation", KindFor(model.JobTypePDFCompress))
}
