package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imkarn/go-saga-fulfillment/internal/awsx"
)

// Recorder emits operational counters to CloudWatch. Every call is
// best-effort: a metrics failure must never affect the request path, so
// errors are dropped.
type Recorder struct {
	client    awsx.CloudWatchAPI
	namespace string
}

func NewRecorder(client awsx.CloudWatchAPI, namespace string) *Recorder {
	return &Recorder{client: client, namespace: namespace}
}

// Count emits a unit increment for the named metric with optional dimensions.
func (r *Recorder) Count(ctx context.Context, name string, dims map[string]string) {
	if r == nil || r.client == nil {
		return
	}
	datum := cwtypes.MetricDatum{
		MetricName: awsx.String(name),
		Value:      ptrFloat(1),
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  ptrTime(time.Now().UTC()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  awsx.String(k),
			Value: awsx.String(v),
		})
	}
	_, _ = r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  awsx.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
}

func ptrFloat(f float64) *float64    { return &f }
func ptrTime(t time.Time) *time.Time { return &t }
