package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collab-notes-backend/internal/model"
)

// collections typed row prototypes per collection, used to materialize rows
// for change feed payloads. Collections absent here get no feed.
var collections = map[string]func() any{
	"notes":              func() any { return &model.Note{} },
	"user_presence":      func() any { return &model.UserPresence{} },
	"tags":               func() any { return &model.Tag{} },
	"tasks":              func() any { return &model.Task{} },
	"meeting_files":      func() any { return &model.MeetingFile{} },
	"meeting_activities": func() any { return &model.MeetingActivity{} },
}

// GormStore Store backed by Postgres rows and a Redis pub/sub change feed.
// Every mutation publishes its Event to changes:<collection>:<meetingID> so
// other server instances see the change too.
type GormStore struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewGormStore(db *gorm.DB, rdb *redis.Client) *GormStore {
	return &GormStore{db: db, rdb: rdb}
}

func changeChannel(collection, meetingID string) string {
	return "changes:" + collection + ":" + meetingID
}

func (s *GormStore) scope(ctx context.Context, collection string, q Query) *gorm.DB {
	tx := s.db.WithContext(ctx).Table(collection)
	for _, f := range q.Filters {
		tx = tx.Where(fmt.Sprintf("%s = ?", f.Column), f.Value)
	}
	if q.OrderBy != "" {
		order := q.OrderBy
		if q.Desc {
			order += " DESC"
		}
		tx = tx.Order(order)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

func (s *GormStore) Select(ctx context.Context, collection string, q Query, dest any) error {
	return s.scope(ctx, collection, q).Find(dest).Error
}

func (s *GormStore) Insert(ctx context.Context, collection string, row any) error {
	if err := s.db.WithContext(ctx).Table(collection).Create(row).Error; err != nil {
		return err
	}
	s.publishRow(ctx, EventInsert, collection, row)
	return nil
}

func (s *GormStore) Update(ctx context.Context, collection string, q Query, values map[string]any) error {
	// Table 단위 Updates는 모델이 없어 autoUpdateTime이 안 걸린다
	values = withUpdatedAt(collection, values, time.Now())
	if err := s.scope(ctx, collection, q).Updates(values).Error; err != nil {
		return err
	}
	// 갱신된 행을 다시 읽어 피드로 내보낸다
	rows, err := s.matchedRows(ctx, collection, q)
	if err != nil {
		log.Printf("[Store] %s update feed read failed: %v", collection, err)
		return nil
	}
	for _, row := range rows {
		s.publishRow(ctx, EventUpdate, collection, row)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, collection string, q Query) error {
	rows, err := s.matchedRows(ctx, collection, q)
	if err != nil {
		log.Printf("[Store] %s delete feed read failed: %v", collection, err)
	}
	if err := s.scope(ctx, collection, q).Delete(nil).Error; err != nil {
		return err
	}
	for _, row := range rows {
		s.publish(ctx, collection, MeetingIDOf(row), Event{
			Type: EventDelete,
			Old:  mustMarshal(row),
		})
	}
	return nil
}

func (s *GormStore) Upsert(ctx context.Context, collection string, row any, conflictColumns []string) error {
	// 충돌 키로 기존 행 유무를 먼저 확인해 피드 이벤트 종류를 정한다
	existed, err := s.conflictRowExists(ctx, collection, row, conflictColumns)
	if err != nil {
		return err
	}

	cols := make([]clause.Column, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		cols = append(cols, clause.Column{Name: c})
	}
	if err := s.db.WithContext(ctx).Table(collection).
		Clauses(clause.OnConflict{Columns: cols, UpdateAll: true}).
		Create(row).Error; err != nil {
		return err
	}

	kind := EventInsert
	if existed {
		kind = EventUpdate
	}
	s.publishRow(ctx, kind, collection, row)
	return nil
}

// withUpdatedAt stamps updated_at on updates against collections that carry
// the column, unless the caller already set one. The collection 프로토타입에
// updated_at 키가 없으면 values를 그대로 돌려준다.
func withUpdatedAt(collection string, values map[string]any, now time.Time) map[string]any {
	if _, ok := values["updated_at"]; ok {
		return values
	}
	proto, ok := collections[collection]
	if !ok {
		return values
	}
	fields, err := rowFields(proto())
	if err != nil {
		return values
	}
	if _, ok := fields["updated_at"]; !ok {
		return values
	}
	out := make(map[string]any, len(values)+1)
	for k, v := range values {
		out[k] = v
	}
	out["updated_at"] = now.UTC()
	return out
}

func (s *GormStore) conflictRowExists(ctx context.Context, collection string, row any, conflictColumns []string) (bool, error) {
	fields, err := rowFields(row)
	if err != nil {
		return false, err
	}
	tx := s.db.WithContext(ctx).Table(collection)
	for _, c := range conflictColumns {
		tx = tx.Where(fmt.Sprintf("%s = ?", c), fields[c])
	}
	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// matchedRows materializes the typed rows a query touches, for feed payloads.
func (s *GormStore) matchedRows(ctx context.Context, collection string, q Query) ([]any, error) {
	proto, ok := collections[collection]
	if !ok {
		return nil, nil
	}
	sliceType := reflect.SliceOf(reflect.TypeOf(proto()).Elem())
	slicePtr := reflect.New(sliceType)
	if err := s.scope(ctx, collection, q).Find(slicePtr.Interface()).Error; err != nil {
		return nil, err
	}
	slice := slicePtr.Elem()
	rows := make([]any, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		rows = append(rows, slice.Index(i).Addr().Interface())
	}
	return rows, nil
}

func (s *GormStore) publishRow(ctx context.Context, kind EventType, collection string, row any) {
	s.publish(ctx, collection, MeetingIDOf(row), Event{
		Type: kind,
		New:  mustMarshal(row),
	})
}

func (s *GormStore) publish(ctx context.Context, collection, meetingID string, ev Event) {
	if _, ok := collections[collection]; !ok || meetingID == "" {
		return
	}
	ev.Collection = collection
	ev.MeetingID = meetingID
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Store] %s event marshal failed: %v", collection, err)
		return
	}
	if err := s.rdb.Publish(ctx, changeChannel(collection, meetingID), data).Err(); err != nil {
		log.Printf("[Store] %s event publish failed: %v", collection, err)
	}
}

// Subscribe opens a change feed over Redis pub/sub. The returned subscription
// reports CONNECTING immediately, then SUBSCRIBED once the Redis channel is
// confirmed, TIMED_OUT if that confirmation never comes, and ERROR if the feed
// breaks afterwards. Events closes when the feed ends for any reason.
func (s *GormStore) Subscribe(ctx context.Context, collection, meetingID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 64)
	status := make(chan ChannelStatus, 4)

	go func() {
		defer close(events)
		defer close(status)

		status <- StatusConnecting

		pubsub := s.rdb.Subscribe(ctx, changeChannel(collection, meetingID))
		defer pubsub.Close()

		if _, err := pubsub.ReceiveTimeout(ctx, 10*time.Second); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Store] %s subscribe failed: %v", collection, err)
			status <- StatusTimedOut
			return
		}
		status <- StatusSubscribed

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					if ctx.Err() == nil {
						status <- StatusError
					}
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("[Store] %s event decode failed: %v", collection, err)
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return NewSubscription(events, status, cancel)
}

func rowFields(row any) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func mustMarshal(row any) json.RawMessage {
	data, err := json.Marshal(row)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
