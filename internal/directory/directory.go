// Package directory reads and seeds the reference records appointments point
// at: patients, professionals, rooms and staff users.
package directory

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Table string

const (
	Patients      Table = "patients"
	Professionals Table = "professionals"
	Rooms         Table = "rooms"
	Users         Table = "users"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var specialties = []string{
	"General Dentistry",
	"Orthodontics",
	"Endodontics",
	"Periodontics",
	"Oral Surgery",
	"Pediatric Dentistry",
	"Prosthodontics",
	"Dental Hygiene",
}

type Patient struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

type Professional struct {
	ID        uuid.UUID
	Name      string
	Specialty string
}

type Room struct {
	ID   uuid.UUID
	Name string
}

type User struct {
	ID   uuid.UUID
	Name string
}

type Directory struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// IDs returns up to limit ids from t in a stable order. A limit of 0 returns
// every row.
func (d *Directory) IDs(ctx context.Context, t Table, limit int) ([]uuid.UUID, error) {
	sql, args, err := buildIDsQuery(t, limit)
	if err != nil {
		return nil, err
	}

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func buildIDsQuery(t Table, limit int) (string, []any, error) {
	q := psql.Select("id").From(string(t)).OrderBy("created_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q.ToSql()
}

func (d *Directory) InsertPatients(ctx context.Context, patients []Patient) error {
	if len(patients) == 0 {
		return nil
	}
	q := psql.Insert(string(Patients)).Columns("id", "name", "email", "phone")
	for _, p := range patients {
		q = q.Values(p.ID, p.Name, p.Email, p.Phone)
	}
	return d.exec(ctx, Patients, q)
}

func (d *Directory) InsertProfessionals(ctx context.Context, pros []Professional) error {
	if len(pros) == 0 {
		return nil
	}
	q := psql.Insert(string(Professionals)).Columns("id", "name", "specialty")
	for _, p := range pros {
		q = q.Values(p.ID, p.Name, p.Specialty)
	}
	return d.exec(ctx, Professionals, q)
}

func (d *Directory) InsertRooms(ctx context.Context, rooms []Room) error {
	if len(rooms) == 0 {
		return nil
	}
	q := psql.Insert(string(Rooms)).Columns("id", "name").Suffix("ON CONFLICT (name) DO NOTHING")
	for _, r := range rooms {
		q = q.Values(r.ID, r.Name)
	}
	return d.exec(ctx, Rooms, q)
}

func (d *Directory) InsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	q := psql.Insert(string(Users)).Columns("id", "name")
	for _, u := range users {
		q = q.Values(u.ID, u.Name)
	}
	return d.exec(ctx, Users, q)
}

func (d *Directory) exec(ctx context.Context, t Table, q squirrel.InsertBuilder) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", t, err)
	}
	if _, err := d.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", t, err)
	}
	return nil
}

// Faker builds plausible reference records.
type Faker struct {
	f *gofakeit.Faker
}

func NewFaker(f *gofakeit.Faker) *Faker {
	return &Faker{f: f}
}

func (fk *Faker) Patients(n int) []Patient {
	out := make([]Patient, n)
	for i := range out {
		out[i] = Patient{
			ID:    uuid.New(),
			Name:  fk.f.Name(),
			Email: fk.f.Email(),
			Phone: fk.f.Phone(),
		}
	}
	return out
}

func (fk *Faker) Professionals(n int) []Professional {
	out := make([]Professional, n)
	for i := range out {
		out[i] = Professional{
			ID:        uuid.New(),
			Name:      "Dr. " + fk.f.LastName(),
			Specialty: specialties[fk.f.Number(0, len(specialties)-1)],
		}
	}
	return out
}

// Rooms names operatories sequentially so reseeding does not duplicate them.
func (fk *Faker) Rooms(n int) []Room {
	out := make([]Room, n)
	for i := range out {
		out[i] = Room{ID: uuid.New(), Name: fmt.Sprintf("Operatory %d", i+1)}
	}
	return out
}

func (fk *Faker) Users(n int) []User {
	out := make([]User, n)
	for i := range out {
		out[i] = User{ID: uuid.New(), Name: fk.f.Name()}
	}
	return out
}
