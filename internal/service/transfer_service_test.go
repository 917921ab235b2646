package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpubs/publications-api/internal/contentstore"
	"github.com/openpubs/publications-api/internal/models"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

const stubChunkSize = 8

type storeObject struct {
	meta   contentstore.ObjectMetadata
	parts  []contentstore.Part
	data   map[int][]byte
	locked bool
	token  string
}

func (o *storeObject) complete() bool {
	for _, p := range o.parts {
		if !p.Completed {
			return false
		}
	}
	return len(o.parts) > 0
}

// storeStub is an in-memory content store speaking the client interface.
type storeStub struct {
	objects     map[string]*storeObject
	remoteParts map[string][]byte
	created     int
	uploads     map[int]int
	nextID      int
	failUpload  map[int]error
	deleteErr   error
	deleted     []string
}

func newStoreStub() *storeStub {
	return &storeStub{
		objects:     make(map[string]*storeObject),
		remoteParts: make(map[string][]byte),
		uploads:     make(map[int]int),
		failUpload:  make(map[int]error),
	}
}

func (s *storeStub) StoreID() string  { return "store-test" }
func (s *storeStub) ChunkSize() int64 { return stubChunkSize }

func (s *storeStub) CreateObject(ctx context.Context, meta contentstore.ObjectMetadata) (*contentstore.CreatedObject, error) {
	s.created++
	s.nextID++
	id := fmt.Sprintf("obj-%d", s.nextID)
	obj := &storeObject{
		meta:   meta,
		parts:  deriveParts(meta.SizeBytes, stubChunkSize),
		data:   make(map[int][]byte),
		locked: true,
		token:  "lock-" + id,
	}
	s.objects[id] = obj
	return &contentstore.CreatedObject{ObjectID: id, LockToken: obj.token, Parts: obj.parts}, nil
}

func (s *storeStub) UploadPart(ctx context.Context, objectID string, seq int, lockToken string, data []byte) error {
	if err := s.failUpload[seq]; err != nil {
		return err
	}
	obj, ok := s.objects[objectID]
	if !ok {
		return errors.New("no such object")
	}
	if !obj.locked || obj.token != lockToken {
		return errors.New("wrong lock token")
	}
	s.uploads[seq]++
	obj.data[seq] = data
	for i := range obj.parts {
		if obj.parts[i].Seq == seq {
			obj.parts[i].Completed = true
		}
	}
	return nil
}

func (s *storeStub) PartsComplete(ctx context.Context, objectID string) (bool, error) {
	obj, ok := s.objects[objectID]
	if !ok {
		return false, errors.New("no such object")
	}
	return obj.complete(), nil
}

func (s *storeStub) Unlock(ctx context.Context, objectID, lockToken string) error {
	obj, ok := s.objects[objectID]
	if !ok || obj.token != lockToken {
		return errors.New("wrong lock token")
	}
	obj.locked = false
	obj.token = ""
	return nil
}

func (s *storeStub) Lock(ctx context.Context, objectID string) (string, error) {
	obj, ok := s.objects[objectID]
	if !ok {
		return "", errors.New("no such object")
	}
	obj.locked = true
	obj.token = "relock-" + objectID
	return obj.token, nil
}

func (s *storeStub) RetrieveObject(ctx context.Context, ref string) (*contentstore.StoredObject, error) {
	obj, ok := s.objects[ref]
	if !ok {
		return nil, errors.New("no such object")
	}
	return &contentstore.StoredObject{
		ObjectID: ref,
		Metadata: obj.meta,
		Parts:    append([]contentstore.Part(nil), obj.parts...),
		Complete: obj.complete(),
	}, nil
}

func (s *storeStub) DeleteObject(ctx context.Context, objectID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, objectID)
	s.deleted = append(s.deleted, objectID)
	return nil
}

func (s *storeStub) Download(ctx context.Context, objectID string) (io.ReadCloser, int64, error) {
	obj, ok := s.objects[objectID]
	if !ok {
		return nil, 0, errors.New("no such object")
	}
	var buf bytes.Buffer
	for _, p := range obj.parts {
		buf.Write(obj.data[p.Seq])
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), int64(buf.Len()), nil
}

func (s *storeStub) DownloadPart(ctx context.Context, partURL string) ([]byte, error) {
	data, ok := s.remoteParts[partURL]
	if !ok {
		return nil, errors.New("no such part")
	}
	return data, nil
}

// seedRemote registers a foreign object retrievable by URL with its parts
// downloadable by part URL.
func (s *storeStub) seedRemote(url string, meta contentstore.ObjectMetadata, chunks [][]byte) {
	obj := &storeObject{meta: meta, data: make(map[int][]byte)}
	for i, chunk := range chunks {
		partURL := fmt.Sprintf("%s/parts/%d", url, i+1)
		obj.parts = append(obj.parts, contentstore.Part{
			Seq:       i + 1,
			SizeBytes: int64(len(chunk)),
			Completed: true,
			URL:       partURL,
		})
		s.remoteParts[partURL] = chunk
	}
	s.objects[url] = obj
}

type transferFixture struct {
	*lifecycleFixture
	store    *storeStub
	transfer *TransferService
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	f := newLifecycleFixture(t)
	store := newStoreStub()
	classifications := &classificationStub{items: map[string]models.Classification{
		"c-retain": withTypeURL(cls("c-retain", models.DispositionRetain, 20, 1), "https://types.example/besluit"),
		"c-short":  cls("c-short", models.DispositionRetain, 5, 2),
	}}
	transfer := NewTransferService(f.docs, f.pubs, classifications, f.audit, &uowStub{}, store, f.docIndex, nil, TransferServiceConfig{
		PublicBaseURL:      "https://pubs.example/api/v1",
		DefaultOwnerRSIN:   "000000000",
		PlaceholderTypeURL: "https://types.example/placeholder",
	})
	return &transferFixture{lifecycleFixture: f, store: store, transfer: transfer}
}

func withTypeURL(cls models.Classification, url string) models.Classification {
	cls.TypeURL = url
	return cls
}

func (f *transferFixture) seedTransferDocument(size int64) *models.Document {
	pub := f.seedPublication(models.PublicationStatusPublished)
	doc := f.seedDocument(pub.ID, models.DocumentStatusPublished)
	f.docs.docs[doc.ID].SizeBytes = size
	doc.SizeBytes = size
	return doc
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(12)

	parts, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, int64(8), parts[0].SizeBytes)
	require.Equal(t, int64(4), parts[1].SizeBytes)
	require.Equal(t, fmt.Sprintf("https://pubs.example/api/v1/documents/%s/parts/1", doc.ID), parts[0].URL)

	again, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, again, 2)
	require.Equal(t, 1, f.store.created)

	stored := f.docs.docs[doc.ID]
	require.True(t, stored.HasStoreReference())
	require.NotEmpty(t, stored.LockToken)
	require.False(t, stored.UploadComplete)
}

func TestRegisterResolvesTypeURLAndRSIN(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(8)

	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)

	obj := f.store.objects[*f.docs.docs[doc.ID].ObjectID]
	require.Equal(t, "https://types.example/besluit", obj.meta.TypeURL)
	require.Equal(t, "123456789", obj.meta.OwnerRSIN)
}

func TestRegisterFallsBackToPlaceholderTypeURL(t *testing.T) {
	f := newTransferFixture(t)
	pub := f.seedPublication(models.PublicationStatusConcept)
	f.pubs.pubs[pub.ID].Classifications = nil
	f.pubs.pubs[pub.ID].PublisherRSIN = nil
	doc := f.seedDocument(pub.ID, models.DocumentStatusConcept)

	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)

	obj := f.store.objects[*f.docs.docs[doc.ID].ObjectID]
	require.Equal(t, "https://types.example/placeholder", obj.meta.TypeURL)
	require.Equal(t, "000000000", obj.meta.OwnerRSIN)
}

func TestUploadPartSizeMismatchIsValidationError(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(12)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)

	err = f.transfer.UploadPart(context.Background(), doc.ID, 1, []byte("short"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	stored := f.docs.docs[doc.ID]
	require.False(t, stored.UploadComplete)
	require.NotEmpty(t, stored.LockToken)
	require.Zero(t, f.store.uploads[1])
}

func TestUploadFinalPartFinalizes(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(12)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)

	require.NoError(t, f.transfer.UploadPart(context.Background(), doc.ID, 1, bytes.Repeat([]byte("a"), 8)))
	require.False(t, f.docs.docs[doc.ID].UploadComplete)

	require.NoError(t, f.transfer.UploadPart(context.Background(), doc.ID, 2, bytes.Repeat([]byte("b"), 4)))

	stored := f.docs.docs[doc.ID]
	require.True(t, stored.UploadComplete)
	require.Empty(t, stored.LockToken)
	obj := f.store.objects[*stored.ObjectID]
	require.False(t, obj.locked)
}

func TestUploadPartNetworkFailureKeepsLock(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(8)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)

	f.store.failUpload[1] = errors.New("connection reset")
	err = f.transfer.UploadPart(context.Background(), doc.ID, 1, bytes.Repeat([]byte("a"), 8))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrTransfer.Code, appErrors.FromError(err).Code)
	require.True(t, appErrors.IsRetryable(err))
	require.NotEmpty(t, f.docs.docs[doc.ID].LockToken)

	delete(f.store.failUpload, 1)
	require.NoError(t, f.transfer.UploadPart(context.Background(), doc.ID, 1, bytes.Repeat([]byte("a"), 8)))
	require.True(t, f.docs.docs[doc.ID].UploadComplete)
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(8)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)

	_, _, _, err = f.transfer.Download(context.Background(), doc.ID)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDownloadStoreDisagreementIsGatewayError(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(8)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)
	// Local flag set without the store ever confirming the parts.
	f.docs.docs[doc.ID].UploadComplete = true

	_, _, _, err = f.transfer.Download(context.Background(), doc.ID)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrGateway.Code, appErrors.FromError(err).Code)
}

func TestDownloadStreamsCompletedDocument(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(12)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NoError(t, f.transfer.UploadPart(context.Background(), doc.ID, 1, bytes.Repeat([]byte("a"), 8)))
	require.NoError(t, f.transfer.UploadPart(context.Background(), doc.ID, 2, bytes.Repeat([]byte("b"), 4)))

	body, length, filename, err := f.transfer.Download(context.Background(), doc.ID)
	require.NoError(t, err)
	defer body.Close()
	require.Equal(t, int64(12), length)
	require.Equal(t, "besluit.pdf", filename)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "aaaaaaaabbbb", string(data))
}

func TestMirrorResumesWithoutReRegistering(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(1)
	source := "https://source.example/objects/remote-1"
	f.docs.docs[doc.ID].SourceURL = &source
	f.store.seedRemote(source, contentstore.ObjectMetadata{
		FileName:  "besluit-def.pdf",
		Format:    "application/pdf",
		SizeBytes: 12,
	}, [][]byte{bytes.Repeat([]byte("a"), 8), bytes.Repeat([]byte("b"), 4)})

	f.store.failUpload[2] = errors.New("connection reset")
	err := f.transfer.MirrorFromSource(context.Background(), doc.ID)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrTransfer.Code, appErrors.FromError(err).Code)

	// Metadata was copied and the object registered before the failure.
	stored := f.docs.docs[doc.ID]
	require.Equal(t, "besluit-def.pdf", stored.FileName)
	require.Equal(t, int64(12), stored.SizeBytes)
	require.True(t, stored.HasStoreReference())
	require.False(t, stored.UploadComplete)

	delete(f.store.failUpload, 2)
	require.NoError(t, f.transfer.MirrorFromSource(context.Background(), doc.ID))

	require.Equal(t, 1, f.store.created)
	require.Equal(t, 1, f.store.uploads[1])
	require.Equal(t, 1, f.store.uploads[2])
	require.True(t, f.docs.docs[doc.ID].UploadComplete)

	// A third run is a no-op.
	require.NoError(t, f.transfer.MirrorFromSource(context.Background(), doc.ID))
	require.Equal(t, 1, f.store.uploads[1])
}

func TestDestroyStoreFailureIsBestEffort(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(8)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)
	f.store.deleteErr = errors.New("store unavailable")

	require.NoError(t, f.transfer.Destroy(context.Background(), doc.ID, actor))

	_, ok := f.docs.docs[doc.ID]
	require.False(t, ok)
	require.Contains(t, f.docs.deleted, doc.ID)
	require.Contains(t, f.audit.actions(), models.AuditActionStoreDeleteFailed)
	require.Contains(t, f.audit.actions(), models.AuditActionDocumentDestroy)
	require.Equal(t, []string{doc.ID}, f.docIndex.removed)
	require.Equal(t, []bool{true}, f.docIndex.forced)
}

func TestDestroyRemovesStoreObject(t *testing.T) {
	f := newTransferFixture(t)
	doc := f.seedTransferDocument(8)
	_, err := f.transfer.Register(context.Background(), doc.ID)
	require.NoError(t, err)
	objectID := *f.docs.docs[doc.ID].ObjectID

	require.NoError(t, f.transfer.Destroy(context.Background(), doc.ID, actor))
	require.Equal(t, []string{objectID}, f.store.deleted)
	require.NotContains(t, f.audit.actions(), models.AuditActionStoreDeleteFailed)
}
