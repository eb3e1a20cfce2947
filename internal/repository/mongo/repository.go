package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/metalalive/transcoder-core/internal/domain"
)

type Repository struct {
	collection *mongo.Collection
}

type versionResultDoc struct {
	Label     string `bson:"label"`
	Container string `bson:"container"`
	Succeeded bool   `bson:"succeeded"`
	Detail    string `bson:"detail,omitempty"`
}

type jobDoc struct {
	ID            string             `bson:"_id"`
	ResourceID    string             `bson:"resourceId"`
	UserID        uint32             `bson:"userId"`
	LastUploadReq uint32             `bson:"lastUploadReq"`
	CorrelationID string             `bson:"correlationId"`
	Status        string             `bson:"status"`
	Versions      []versionResultDoc `bson:"versions,omitempty"`
	ErrorMessage  string             `bson:"errorMessage,omitempty"`
	CreatedAt     int64              `bson:"createdAt"`
	UpdatedAt     int64              `bson:"updatedAt"`
}

type jobUpdateDoc struct {
	ResourceID    string             `bson:"resourceId"`
	UserID        uint32             `bson:"userId"`
	LastUploadReq uint32             `bson:"lastUploadReq"`
	CorrelationID string             `bson:"correlationId"`
	Status        string             `bson:"status"`
	Versions      []versionResultDoc `bson:"versions,omitempty"`
	ErrorMessage  string             `bson:"errorMessage,omitempty"`
	UpdatedAt     int64              `bson:"updatedAt"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "resourceId", Value: 1}}},
		{Keys: bson.D{{Key: "correlationId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *Repository) Create(ctx context.Context, j domain.JobRecord) error {
	doc := toDoc(j)
	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, j domain.JobRecord) error {
	doc := toUpdateDoc(j)
	filter := bson.M{"_id": j.ID}
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": doc})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (domain.JobRecord, error) {
	var doc jobDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.JobRecord{}, domain.ErrNotFound
		}
		return domain.JobRecord{}, err
	}
	return fromDoc(doc), nil
}

func (r *Repository) GetByCorrelationID(ctx context.Context, correlationID string) (domain.JobRecord, error) {
	var doc jobDoc
	err := r.collection.FindOne(ctx, bson.M{"correlationId": correlationID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.JobRecord{}, domain.ErrNotFound
		}
		return domain.JobRecord{}, err
	}
	return fromDoc(doc), nil
}

// ListByStatus returns jobs in the given status, most recently updated first.
// Used on worker restart to find jobs left "running" by an unclean shutdown.
func (r *Repository) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.JobRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

// ListRunning satisfies ports.JobRepository; it is a thin wrapper around
// ListByStatus for the worker-restart recovery scan.
func (r *Repository) ListRunning(ctx context.Context) ([]domain.JobRecord, error) {
	return r.ListByStatus(ctx, domain.JobStatusRunning)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toDoc(j domain.JobRecord) jobDoc {
	return jobDoc{
		ID:            j.ID,
		ResourceID:    j.ResourceID,
		UserID:        j.UserID,
		LastUploadReq: j.LastUploadReq,
		CorrelationID: j.CorrelationID,
		Status:        string(j.Status),
		Versions:      toVersionDocs(j.Versions),
		ErrorMessage:  j.ErrorMessage,
		CreatedAt:     j.CreatedAt.Unix(),
		UpdatedAt:     j.UpdatedAt.Unix(),
	}
}

func toUpdateDoc(j domain.JobRecord) jobUpdateDoc {
	return jobUpdateDoc{
		ResourceID:    j.ResourceID,
		UserID:        j.UserID,
		LastUploadReq: j.LastUploadReq,
		CorrelationID: j.CorrelationID,
		Status:        string(j.Status),
		Versions:      toVersionDocs(j.Versions),
		ErrorMessage:  j.ErrorMessage,
		UpdatedAt:     j.UpdatedAt.Unix(),
	}
}

func toVersionDocs(versions []domain.VersionResult) []versionResultDoc {
	docs := make([]versionResultDoc, 0, len(versions))
	for _, v := range versions {
		docs = append(docs, versionResultDoc{
			Label:     string(v.Label),
			Container: v.Container,
			Succeeded: v.Succeeded,
			Detail:    v.Detail,
		})
	}
	return docs
}

func fromVersionDocs(docs []versionResultDoc) []domain.VersionResult {
	versions := make([]domain.VersionResult, 0, len(docs))
	for _, d := range docs {
		versions = append(versions, domain.VersionResult{
			Label:     domain.VersionLabel(d.Label),
			Container: d.Container,
			Succeeded: d.Succeeded,
			Detail:    d.Detail,
		})
	}
	return versions
}

func fromDoc(doc jobDoc) domain.JobRecord {
	return domain.JobRecord{
		ID:            doc.ID,
		ResourceID:    doc.ResourceID,
		UserID:        doc.UserID,
		LastUploadReq: doc.LastUploadReq,
		CorrelationID: doc.CorrelationID,
		Status:        domain.JobStatus(doc.Status),
		Versions:      fromVersionDocs(doc.Versions),
		ErrorMessage:  doc.ErrorMessage,
		CreatedAt:     timeFromUnix(doc.CreatedAt),
		UpdatedAt:     timeFromUnix(doc.UpdatedAt),
	}
}

func fromDocs(docs []jobDoc) []domain.JobRecord {
	records := make([]domain.JobRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDoc(doc))
	}
	return records
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}
