package crm

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

const (
	MaxImportRows = 5000
	sampleRows    = 5
)

var headerSynonyms = map[string][]string{
	FieldFullName:  {"nombre completo", "full name", "name", "cliente", "paciente", "nombre y apellidos"},
	FieldFirstName: {"nombre", "first name", "firstname", "given name"},
	FieldLastName:  {"apellidos", "apellido", "last name", "lastname", "surname", "family name"},
	FieldEmail:     {"email", "e mail", "correo", "correo electronico", "mail"},
	FieldPhone:     {"telefono", "movil", "phone", "mobile", "celular", "tel", "telefono movil", "whatsapp"},
	FieldTaxID:     {"dni", "nif", "nie", "cif", "tax id", "documento", "dni nie"},
	FieldBirthDate: {"fecha de nacimiento", "fecha nacimiento", "nacimiento", "birth date", "birthdate", "date of birth", "dob"},
	FieldAddress:   {"direccion", "domicilio", "address"},
	FieldNotes:     {"notas", "observaciones", "notes", "comentarios", "comments"},
	FieldTags:      {"etiquetas", "tags", "grupos", "segmento"},
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"_", " ", "-", " ", ".", " ", ":", " ",
)

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = accentFolder.Replace(strings.ToLower(strings.TrimSpace(h)))
	return strings.Join(strings.Fields(h), " ")
}

// HeuristicMapping maps headers to client fields by synonym. Each field is
// used at most once; unknown headers are left out.
func HeuristicMapping(headers []string) map[string]string {
	lookup := make(map[string]string)
	for field, syns := range headerSynonyms {
		for _, s := range syns {
			lookup[s] = field
		}
	}

	mapping := make(map[string]string)
	used := make(map[string]bool)
	for _, h := range headers {
		field, ok := lookup[normalizeHeader(h)]
		if !ok || used[field] {
			continue
		}
		mapping[h] = field
		used[field] = true
	}
	return mapping
}

// CleanMapping drops entries whose header is not in headers, whose field is
// unknown, or whose field was already claimed by an earlier header.
func CleanMapping(mapping map[string]string, headers []string) map[string]string {
	out := make(map[string]string)
	used := make(map[string]bool)
	for _, h := range headers {
		field := strings.TrimSpace(mapping[h])
		if field == "" || !IsImportField(field) || used[field] {
			continue
		}
		out[h] = field
		used[field] = true
	}
	return out
}

func hasNameField(mapping map[string]string) bool {
	for _, f := range mapping {
		if f == FieldFirstName || f == FieldFullName {
			return true
		}
	}
	return false
}

// sniffDelimiter picks ';' for spreadsheets exported with a European locale.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(4096)
	line := string(peek)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestCount := ',', strings.Count(line, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006", "02.01.2006"}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ';' })
}

// ImportCSV creates clients from a CSV file. Without a mapping the column
// mapper is asked for one, falling back to header synonyms. Rows that fail
// validation or duplicate an existing email/phone are skipped and reported.
func (s *Service) ImportCSV(ctx context.Context, orgID uuid.UUID, r io.Reader, mapping map[string]string) (*ImportReport, error) {
	region, err := s.region(ctx, orgID)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, apperr.Invalid("file", "is not a readable CSV: "+err.Error())
	}
	if len(records) < 2 {
		return nil, apperr.Invalid("file", "needs a header row and at least one data row")
	}
	if len(records)-1 > MaxImportRows {
		return nil, apperr.Invalid("file", fmt.Sprintf("has more than %d rows", MaxImportRows))
	}
	headers, rows := records[0], records[1:]
	headers[0] = strings.TrimPrefix(headers[0], "\ufeff")

	if mapping == nil {
		mapping = s.proposeMapping(ctx, orgID, headers, rows)
	}
	mapping = CleanMapping(mapping, headers)
	if !hasNameField(mapping) {
		return nil, apperr.Invalid("mapping", "must map a column to first_name or full_name")
	}

	emails, phones, err := s.clients.ContactKeys(ctx, orgID)
	if err != nil {
		return nil, err
	}

	type pending struct {
		client *Client
		tags   []string
	}
	report := &ImportReport{Mapping: mapping, Errors: []ImportError{}}
	var batch []pending

	for i, row := range rows {
		line := i + 2 // header is line 1
		c, tags, err := clientFromRow(headers, row, mapping)
		if err == nil {
			c.OrganizationID = orgID
			err = s.prepare(c, region)
		}
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, ImportError{Row: line, Message: err.Error()})
			continue
		}
		if (c.Email != "" && emails[c.Email]) || (c.Phone != "" && phones[c.Phone]) {
			report.Skipped++
			report.Errors = append(report.Errors, ImportError{Row: line, Message: "duplicate of an existing client"})
			continue
		}
		if c.Email != "" {
			emails[c.Email] = true
		}
		if c.Phone != "" {
			phones[c.Phone] = true
		}
		batch = append(batch, pending{client: c, tags: tags})
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, p := range batch {
			if err := s.clients.Create(ctx, p.client); err != nil {
				return err
			}
			if len(p.tags) > 0 {
				if _, err := s.applyTags(ctx, orgID, p.client.ID, p.tags); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import clients: %w", err)
	}
	report.Imported = len(batch)

	s.logger.Info().
		Str("organization_id", orgID.String()).
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Msg("client import finished")
	return report, nil
}

func (s *Service) proposeMapping(ctx context.Context, orgID uuid.UUID, headers []string, rows [][]string) map[string]string {
	if s.mapper != nil {
		sample := rows
		if len(sample) > sampleRows {
			sample = sample[:sampleRows]
		}
		m, err := s.mapper.MapColumns(ctx, headers, sample)
		if err == nil && hasNameField(CleanMapping(m, headers)) {
			return m
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("organization_id", orgID.String()).Msg("column mapper failed, using header synonyms")
		}
	}
	return HeuristicMapping(headers)
}

func clientFromRow(headers, row []string, mapping map[string]string) (*Client, []string, error) {
	c := &Client{}
	var tags []string
	for i, h := range headers {
		field, ok := mapping[h]
		if !ok || i >= len(row) {
			continue
		}
		val := strings.TrimSpace(row[i])
		switch field {
		case FieldFirstName:
			c.FirstName = val
		case FieldLastName:
			c.LastName = val
		case FieldFullName:
			first, last, _ := strings.Cut(val, " ")
			if c.FirstName == "" {
				c.FirstName = first
			}
			if c.LastName == "" {
				c.LastName = strings.TrimSpace(last)
			}
		case FieldEmail:
			c.Email = val
		case FieldPhone:
			c.Phone = val
		case FieldTaxID:
			c.TaxID = val
		case FieldBirthDate:
			d, err := parseDate(val)
			if err != nil {
				return nil, nil, apperr.Invalid("birth_date", err.Error())
			}
			c.BirthDate = d
		case FieldAddress:
			c.Address = val
		case FieldNotes:
			c.Notes = val
		case FieldTags:
			tags = splitTags(val)
		}
	}
	if c.FirstName == "" && c.LastName == "" && c.Email == "" && c.Phone == "" {
		return nil, nil, errors.New("empty row")
	}
	return c, tags, nil
}
