package blockstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/ipfs/go-cid"

	"github.com/rookery-social/rookery/codec"
)

// S3Interface is the slice of the S3 API the store needs, for mocking.
type S3Interface interface {
	DeleteObjectWithContext(ctx aws.Context, input *awss3.DeleteObjectInput, opts ...request.Option) (*awss3.DeleteObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *awss3.GetObjectInput, opts ...request.Option) (*awss3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *awss3.HeadObjectInput, opts ...request.Option) (*awss3.HeadObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *awss3.PutObjectInput, opts ...request.Option) (*awss3.PutObjectOutput, error)
	ListObjectsV2PagesWithContext(ctx aws.Context, input *awss3.ListObjectsV2Input, fn func(*awss3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
}

// S3 stores blocks as objects named by CID under a key prefix, in any
// S3-compatible bucket. Blocks are immutable, so a small LRU of
// recently-written names suffices to skip redundant puts. S3 offers no
// atomic compare-and-swap, so this is a block backend only; pair it with
// a HeadStore that can.
type S3 struct {
	client S3Interface
	bucket string
	prefix string

	mu     sync.Mutex
	recent *simplelru.LRU
}

var _ Store = (*S3)(nil)

// NewS3 returns a block store over the given bucket and key prefix.
func NewS3(client S3Interface, bucket, prefix string) *S3 {
	recent, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return &S3{client: client, bucket: bucket, prefix: prefix, recent: recent}
}

func (p *S3) key(c cid.Cid) string { return p.prefix + c.String() }

func (p *S3) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	c, err := codec.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	p.mu.Lock()
	_, present := p.recent.Get(c)
	p.mu.Unlock()
	if present {
		return c, nil
	}
	input := awss3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    aws.String(p.key(c)),
		Body:   bytes.NewReader(data),
	}
	if _, err := p.client.PutObjectWithContext(ctx, &input); err != nil {
		return cid.Undef, fmt.Errorf("put object %s: %w", c, err)
	}
	p.mu.Lock()
	p.recent.Add(c, nil)
	p.mu.Unlock()
	return c, nil
}

func (p *S3) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	input := awss3.GetObjectInput{
		Bucket: &p.bucket,
		Key:    aws.String(p.key(c)),
	}
	output, err := p.client.GetObjectWithContext(ctx, &input)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, &MissingBlocksError{Cids: []cid.Cid{c}}
		}
		return nil, fmt.Errorf("get object %s: %w", c, err)
	}
	defer output.Body.Close()
	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", c, err)
	}
	p.mu.Lock()
	p.recent.Add(c, nil)
	p.mu.Unlock()
	return data, nil
}

func (p *S3) Has(ctx context.Context, c cid.Cid) (bool, error) {
	p.mu.Lock()
	_, present := p.recent.Get(c)
	p.mu.Unlock()
	if present {
		return true, nil
	}
	input := awss3.HeadObjectInput{
		Bucket: &p.bucket,
		Key:    aws.String(p.key(c)),
	}
	if _, err := p.client.HeadObjectWithContext(ctx, &input); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", c, err)
	}
	return true, nil
}

func (p *S3) GetBlocks(ctx context.Context, cids []cid.Cid) (map[cid.Cid][]byte, []cid.Cid, error) {
	found := make(map[cid.Cid][]byte, len(cids))
	var missing []cid.Cid
	for _, c := range cids {
		data, err := p.Get(ctx, c)
		if err == nil {
			found[c] = data
			continue
		}
		var mbe *MissingBlocksError
		if errors.As(err, &mbe) {
			missing = append(missing, c)
			continue
		}
		return nil, nil, err
	}
	return found, missing, nil
}

func (p *S3) Delete(ctx context.Context, c cid.Cid) error {
	input := awss3.DeleteObjectInput{
		Bucket: &p.bucket,
		Key:    aws.String(p.key(c)),
	}
	if _, err := p.client.DeleteObjectWithContext(ctx, &input); err != nil {
		return fmt.Errorf("delete object %s: %w", c, err)
	}
	p.mu.Lock()
	p.recent.Remove(c)
	p.mu.Unlock()
	return nil
}

func (p *S3) Entries(ctx context.Context, fn func(c cid.Cid, data []byte) error) error {
	var walkErr error
	input := awss3.ListObjectsV2Input{
		Bucket: &p.bucket,
		Prefix: aws.String(p.prefix),
	}
	err := p.client.ListObjectsV2PagesWithContext(ctx, &input,
		func(page *awss3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				name := strings.TrimPrefix(aws.StringValue(obj.Key), p.prefix)
				c, err := cid.Decode(name)
				if err != nil {
					walkErr = fmt.Errorf("object %q is not CID-named: %w", name, err)
					return false
				}
				data, err := p.Get(ctx, c)
				if err != nil {
					walkErr = err
					return false
				}
				if err := fn(c, data); err != nil {
					walkErr = err
					return false
				}
			}
			return true
		})
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	return walkErr
}

// Len counts objects with a full list; prefer tracking counts elsewhere
// when calling this often.
func (p *S3) Len() int {
	n := 0
	input := awss3.ListObjectsV2Input{
		Bucket: &p.bucket,
		Prefix: aws.String(p.prefix),
	}
	p.client.ListObjectsV2PagesWithContext(context.Background(), &input,
		func(page *awss3.ListObjectsV2Output, _ bool) bool {
			n += len(page.Contents)
			return true
		})
	return n
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		code := aerr.Code()
		return code == awss3.ErrCodeNoSuchKey || code == "NotFound"
	}
	return false
}
