package upload

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// listObjects returns the sizes of all objects under prefix keyed by
// object key.
func (u *s3Uploader) listObjects(
	ctx context.Context, prefix string,
) (map[string]int64, error) {
	objects := make(map[string]int64, 64)

	paginator := s3.NewListObjectsV2Paginator(u.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}

			objects[*obj.Key] = aws.ToInt64(obj.Size)
		}
	}

	return objects, nil
}
