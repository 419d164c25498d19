package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSSDP(t *testing.T) {
	before := testutil.ToFloat64(SSDPRequestsTotal.WithLabelValues(SSDPAnswered))
	RecordSSDP(SSDPAnswered)
	assert.Equal(t, before+1, testutil.ToFloat64(SSDPRequestsTotal.WithLabelValues(SSDPAnswered)))
}

func TestRecordUpload(t *testing.T) {
	bytesBefore := testutil.ToFloat64(UploadBytesTotal.WithLabelValues("image/jpeg"))

	RecordUpload("image/jpeg", StatusSuccess, 1024, 0.2)
	RecordUpload("image/jpeg", StatusFailed, 4096, 0.2)

	assert.Equal(t, bytesBefore+1024, testutil.ToFloat64(UploadBytesTotal.WithLabelValues("image/jpeg")))
}

func TestSetPending(t *testing.T) {
	SetPending(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(PendingObjects))
	SetPending(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(PendingObjects))
}
