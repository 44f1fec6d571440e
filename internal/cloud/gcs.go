// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// Cloud Storage notification attributes. Only finalized objects are ingested.
const (
	AttrEventType       = "eventType"
	EventObjectFinalize = "OBJECT_FINALIZE"
)

// GCSPubSubNotification is the JSON payload of a Cloud Storage
// OBJECT_FINALIZE notification. Only the fields the pipeline reads are kept.
type GCSPubSubNotification struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Generation  string `json:"generation"`
	ContentType string `json:"contentType"`
	TimeCreated string `json:"timeCreated"`
	Size        string `json:"size"`
}

// GCSObject identifies an object named in a notification.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// Locator returns the gs:// form of the object.
func (o GCSObject) Locator() string {
	return model.Locator(o.Bucket, o.Name)
}

// GCSObjectStore implements the object store on Cloud Storage. URLs are
// signed with the IAM credentials API when a signer account is configured,
// otherwise with the client's own credentials. Every operation runs under
// timeout.
type GCSObjectStore struct {
	client      *storage.Client
	iam         *credentials.IamCredentialsClient
	signerEmail string
	timeout     time.Duration
}

func NewGCSObjectStore(client *storage.Client, iam *credentials.IamCredentialsClient, signerEmail string, timeout time.Duration) *GCSObjectStore {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &GCSObjectStore{client: client, iam: iam, signerEmail: signerEmail, timeout: timeout}
}

func (s *GCSObjectStore) object(locator string) (*storage.ObjectHandle, error) {
	bucket, key, err := model.SplitLocator(locator)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("locator %q names a bucket, not an object", locator)
	}
	return s.client.Bucket(bucket).Object(key), nil
}

func (s *GCSObjectStore) Put(ctx context.Context, locator string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	obj, err := s.object(locator)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", locator, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", locator, err)
	}
	return nil
}

func (s *GCSObjectStore) Get(ctx context.Context, locator string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	obj, err := s.object(locator)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &model.NotFoundError{Kind: "object", ID: locator}
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *GCSObjectStore) Delete(ctx context.Context, locator string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	obj, err := s.object(locator)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// List returns the locators of every object under prefixLocator.
func (s *GCSObjectStore) List(ctx context.Context, prefixLocator string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	bucket, prefix, err := model.SplitLocator(prefixLocator)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, model.Locator(bucket, attrs.Name))
	}
	return out, nil
}

// Presign issues a V4 GET URL valid for ttl.
func (s *GCSObjectStore) Presign(ctx context.Context, locator string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	bucket, key, err := model.SplitLocator(locator)
	if err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	if s.signerEmail != "" && s.iam != nil {
		opts.GoogleAccessID = s.signerEmail
		opts.SignBytes = func(b []byte) ([]byte, error) {
			resp, err := s.iam.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.signerEmail),
				Payload: b,
			})
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		}
	}
	u, err := s.client.Bucket(bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).SignedURL(%q): %w", bucket, key, err)
	}
	return u, nil
}
