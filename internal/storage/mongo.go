package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/pkg/logx"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type mongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	events   *mongo.Collection
	notifs   *mongo.Collection
	counters *mongo.Collection
	log      logx.Logger
}

type userDoc struct {
	ID           string             `bson:"_id"`
	ChannelID    int64              `bson:"channelId"`
	Username     string             `bson:"username,omitempty"`
	FirstName    string             `bson:"firstName,omitempty"`
	LastName     string             `bson:"lastName,omitempty"`
	Frequency    string             `bson:"frequency"`
	Preferences  domain.Preferences `bson:"preferences"`
	CreatedAt    time.Time          `bson:"createdAt"`
	LastActiveAt time.Time          `bson:"lastActiveAt"`
}

type eventDoc struct {
	ID          string     `bson:"_id"`
	Seq         int64      `bson:"seq"`
	Title       string     `bson:"title"`
	Description string     `bson:"description"`
	Type        string     `bson:"type"`
	TypeLC      string     `bson:"typeLc"`
	Location    string     `bson:"location"`
	Venue       string     `bson:"venue,omitempty"`
	StartDate   time.Time  `bson:"startDate"`
	EndDate     *time.Time `bson:"endDate,omitempty"`
	Price       *float64   `bson:"price,omitempty"`
	URL         string     `bson:"url,omitempty"`
	ImageURL    string     `bson:"imageUrl,omitempty"`
	Tags        []string   `bson:"tags,omitempty"`
	Source      string     `bson:"source,omitempty"`
}

type notificationDoc struct {
	ID      string    `bson:"_id"`
	UserID  string    `bson:"userId"`
	EventID string    `bson:"eventId"`
	SentAt  time.Time `bson:"sentAt"`
	Status  string    `bson:"status"`
	Origin  string    `bson:"origin"`
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (*mongoStore, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = "event_notifications"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	db := client.Database(dbName)
	s := &mongoStore{
		client:   client,
		users:    db.Collection("users"),
		events:   db.Collection("events"),
		notifs:   db.Collection("notifications"),
		counters: db.Collection("counters"),
		log:      log,
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Debug("mongo store opened", logx.String("database", dbName))
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "channelId", Value: 1}}, Options: unique}},
		{s.users, mongo.IndexModel{Keys: bson.D{{Key: "frequency", Value: 1}}}},
		{s.events, mongo.IndexModel{Keys: bson.D{{Key: "startDate", Value: 1}}}},
		{s.events, mongo.IndexModel{Keys: bson.D{{Key: "typeLc", Value: 1}, {Key: "startDate", Value: 1}}}},
		{s.notifs, mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "eventId", Value: 1}}, Options: unique}},
		{s.notifs, mongo.IndexModel{Keys: bson.D{{Key: "sentAt", Value: 1}}}},
	}
	for _, sp := range specs {
		if _, err := sp.coll.Indexes().CreateOne(ctx, sp.model); err != nil {
			return domain.StoreError("mongo.indexes", err)
		}
	}
	return nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return domain.StoreError("ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// users

func (s *mongoStore) InsertUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.users.InsertOne(ctx, userDoc{
		ID: u.ID, ChannelID: u.ChannelID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName,
		Frequency: u.Preferences.Frequency.String(), Preferences: u.Preferences,
		CreatedAt: u.CreatedAt, LastActiveAt: u.LastActiveAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrUserExists
	}
	return domain.StoreError("users.insert", err)
}

func (s *mongoStore) FindUserByID(ctx context.Context, id string) (domain.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *mongoStore) FindUserByChannelID(ctx context.Context, channelID int64) (domain.User, error) {
	return s.findUser(ctx, bson.M{"channelId": channelID})
}

func (s *mongoStore) findUser(ctx context.Context, filter bson.M) (domain.User, error) {
	var d userDoc
	err := s.users.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, domain.StoreError("users.find", err)
	}
	return d.user(), nil
}

func (s *mongoStore) FindUsersByFrequency(ctx context.Context, f domain.Frequency) ([]domain.User, error) {
	cur, err := s.users.Find(ctx, bson.M{"frequency": f.String()},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, domain.StoreError("users.by_frequency", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.StoreError("users.by_frequency", err)
	}
	out := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.user())
	}
	return out, nil
}

func (s *mongoStore) UpdatePreferences(ctx context.Context, id string, prefs domain.Preferences, activeAt time.Time) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"preferences":  prefs,
		"frequency":    prefs.Frequency.String(),
		"lastActiveAt": activeAt,
	}})
	if err != nil {
		return domain.StoreError("users.update_prefs", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *mongoStore) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{})
	return n, domain.StoreError("users.count", err)
}

func (s *mongoStore) CountUsersActiveSince(ctx context.Context, t time.Time) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"lastActiveAt": bson.M{"$gte": t}})
	return n, domain.StoreError("users.count_active", err)
}

func (d userDoc) user() domain.User {
	u := domain.User{
		ID: d.ID, ChannelID: d.ChannelID, Username: d.Username, FirstName: d.FirstName, LastName: d.LastName,
		Preferences: d.Preferences, CreatedAt: d.CreatedAt, LastActiveAt: d.LastActiveAt,
	}
	// frequency is the indexed copy; it wins over the embedded value.
	if f, err := domain.ParseFrequency(d.Frequency); err == nil {
		u.Preferences.Frequency = f
	}
	return u
}

// events

func (s *mongoStore) nextSeq(ctx context.Context, name string) (int64, error) {
	var c struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	return c.Seq, err
}

func (s *mongoStore) InsertEvent(ctx context.Context, ev *domain.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	seq, err := s.nextSeq(ctx, "events")
	if err != nil {
		return domain.StoreError("events.seq", err)
	}
	_, err = s.events.InsertOne(ctx, eventDoc{
		ID: ev.ID, Seq: seq, Title: ev.Title, Description: ev.Description,
		Type: ev.Type, TypeLC: strings.ToLower(strings.TrimSpace(ev.Type)),
		Location: ev.Location, Venue: ev.Venue, StartDate: ev.StartDate, EndDate: ev.EndDate,
		Price: ev.Price, URL: ev.URL, ImageURL: ev.ImageURL, Tags: ev.Tags, Source: ev.Source,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrEventExists
	}
	if err != nil {
		return domain.StoreError("events.insert", err)
	}
	ev.Seq = seq
	return nil
}

func (s *mongoStore) FindEvent(ctx context.Context, id string) (domain.Event, error) {
	var d eventDoc
	err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Event{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, domain.StoreError("events.find", err)
	}
	return d.event(), nil
}

func (s *mongoStore) FindUpcomingEvents(ctx context.Context, q domain.EventQuery) ([]domain.Event, error) {
	filter := bson.M{"startDate": bson.M{"$gte": q.StartFrom}}
	if len(q.Types) > 0 {
		filter["typeLc"] = bson.M{"$in": q.Types}
	}
	cur, err := s.events.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, domain.StoreError("events.upcoming", err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.StoreError("events.upcoming", err)
	}
	out := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.event())
	}
	return out, nil
}

func (s *mongoStore) CountEvents(ctx context.Context) (int64, error) {
	n, err := s.events.CountDocuments(ctx, bson.M{})
	return n, domain.StoreError("events.count", err)
}

func (d eventDoc) event() domain.Event {
	return domain.Event{
		ID: d.ID, Seq: d.Seq, Title: d.Title, Description: d.Description, Type: d.Type,
		Location: d.Location, Venue: d.Venue, StartDate: d.StartDate, EndDate: d.EndDate,
		Price: d.Price, URL: d.URL, ImageURL: d.ImageURL, Tags: d.Tags, Source: d.Source,
	}
}

// notifications

func (s *mongoStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := s.notifs.InsertOne(ctx, notificationDoc{
		ID: n.ID, UserID: n.UserID, EventID: n.EventID, SentAt: n.SentAt,
		Status: string(n.Status), Origin: string(n.Origin),
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicatePair
	}
	return domain.StoreError("notifications.insert", err)
}

func (s *mongoStore) FindNotification(ctx context.Context, userID, eventID string) (domain.Notification, error) {
	var d notificationDoc
	err := s.notifs.FindOne(ctx, bson.M{"userId": userID, "eventId": eventID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Notification{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Notification{}, domain.StoreError("notifications.find", err)
	}
	return domain.Notification{
		ID: d.ID, UserID: d.UserID, EventID: d.EventID, SentAt: d.SentAt,
		Status: domain.Status(d.Status), Origin: domain.Origin(d.Origin),
	}, nil
}

func (s *mongoStore) UpdateNotificationStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	res, err := s.notifs.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to)}})
	if err != nil {
		return false, domain.StoreError("notifications.update_status", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *mongoStore) FailPendingBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.notifs.UpdateMany(ctx,
		bson.M{"status": string(domain.StatusPending), "sentAt": bson.M{"$lt": t}},
		bson.M{"$set": bson.M{"status": string(domain.StatusFailed)}})
	if err != nil {
		return 0, domain.StoreError("notifications.fail_pending", err)
	}
	return res.ModifiedCount, nil
}

func (s *mongoStore) DeleteNotificationsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.notifs.DeleteMany(ctx, bson.M{"sentAt": bson.M{"$lt": t}})
	if err != nil {
		return 0, domain.StoreError("notifications.delete_before", err)
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) NotifiedEventIDs(ctx context.Context, userID string) ([]string, error) {
	vals, err := s.notifs.Distinct(ctx, "eventId", bson.M{"userId": userID})
	if err != nil {
		return nil, domain.StoreError("notifications.event_ids", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *mongoStore) CountNotifications(ctx context.Context) (int64, error) {
	n, err := s.notifs.CountDocuments(ctx, bson.M{})
	return n, domain.StoreError("notifications.count", err)
}

func (s *mongoStore) NotificationTimesSince(ctx context.Context, t time.Time) ([]time.Time, error) {
	cur, err := s.notifs.Find(ctx, bson.M{"sentAt": bson.M{"$gte": t}},
		options.Find().SetProjection(bson.M{"sentAt": 1}).SetSort(bson.D{{Key: "sentAt", Value: 1}}))
	if err != nil {
		return nil, domain.StoreError("notifications.times", err)
	}
	var docs []struct {
		SentAt time.Time `bson:"sentAt"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.StoreError("notifications.times", err)
	}
	out := make([]time.Time, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.SentAt)
	}
	return out, nil
}
