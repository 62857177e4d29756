package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/classroom-relay/relay/internal/auth"
	"github.com/classroom-relay/relay/internal/logger"
	"github.com/classroom-relay/relay/internal/store"
	"github.com/classroom-relay/relay/internal/utils"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("already exists")
)

const (
	recentMessagesPerGroup = 5
	searchResultLimit      = 5
	searchThreshold        = 0.5
	allMessages            = -1 // sqlite: a negative LIMIT means no limit
)

type ClassroomStore interface {
	CreateTeacherAccount(ctx context.Context, user *store.User, teacher *store.Teacher) error
	CreateStudentAccount(ctx context.Context, user *store.User, student *store.Student) error
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	GetTeacherByID(ctx context.Context, id string) (*store.Teacher, error)
	GetTeacherByUserID(ctx context.Context, userID string) (*store.Teacher, error)
	SetTeacherAvailability(ctx context.Context, teacherID string, available bool) error
	GetStudentByID(ctx context.Context, id string) (*store.Student, error)
	GetStudentByUserID(ctx context.Context, userID string) (*store.Student, error)

	ListSemesters(ctx context.Context) ([]store.Semester, error)
	GetSemesterByID(ctx context.Context, id string) (*store.Semester, error)
	CreateGroup(ctx context.Context, group *store.Group, memberStudentID string) error
	GetGroupByID(ctx context.Context, id string) (*store.Group, error)
	ListGroupsByTeacherID(ctx context.Context, teacherID string) ([]store.Group, error)
	ListGroupsByStudentID(ctx context.Context, studentID string) ([]store.Group, error)
	AddGroupMember(ctx context.Context, groupID, studentID string) (*store.GroupMember, error)
	ListGroupStudents(ctx context.Context, groupID string) ([]store.GroupStudent, error)
	CountGroupMembers(ctx context.Context, groupID string) (int, error)
	IsGroupMember(ctx context.Context, groupID, studentID string) (bool, error)

	GetMessagesByGroupID(ctx context.Context, groupID string, limit int, offset int) ([]store.Message, error)
	GetLastNMessagesByGroupID(ctx context.Context, groupID string, n int) ([]store.Message, error)
	GetEmbeddedMessagesByGroupID(ctx context.Context, groupID string) ([]store.Message, error)
	CountMessagesByGroupID(ctx context.Context, groupID string) (int, error)
}

type TokenIssuer interface {
	GenerateJWT(userID string) (string, error)
}

type SignUpInput struct {
	Name        string
	Email       string
	Password    string
	Role        string
	Semester    int  // students only, 1..8
	IsAvailable bool // teachers only
}

type CreateGroupInput struct {
	SubjectName string
	SemesterID  string
	GroupType   string
	StudentID   string // required for personal groups
}

type GroupSummary struct {
	store.Group
	StudentCount   int             `json:"student_count"`
	RecentMessages []store.Message `json:"recent_messages"`
}

type SemesterGroups struct {
	ID             string         `json:"id"`
	SemesterNumber int            `json:"semester_number"`
	Divisions      []GroupSummary `json:"divisions"`
}

type YearGroups struct {
	Year      int              `json:"year"`
	Semesters []SemesterGroups `json:"semesters"`
}

type GroupOverview struct {
	Years []YearGroups `json:"years"`
}

type TeacherInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsAvailable bool   `json:"is_available"`
}

type GroupDetails struct {
	store.Group
	Teacher      TeacherInfo          `json:"teacher"`
	Students     []store.GroupStudent `json:"students"`
	MessageCount int                  `json:"message_count"`
}

type SearchHit struct {
	Message    store.Message `json:"message"`
	Similarity float32       `json:"similarity"`
}

// caller is the authenticated user with whichever profile matches their role.
type caller struct {
	user    *store.User
	teacher *store.Teacher
	student *store.Student
}

// ClassroomService covers everything around the message pipeline: accounts,
// groups, membership, history and search.
type ClassroomService struct {
	store    ClassroomStore
	tokens   TokenIssuer
	embedder Embedder
	log      *logger.Logger
}

func NewClassroomService(s ClassroomStore, tokens TokenIssuer, embedder Embedder, log *logger.Logger) *ClassroomService {
	return &ClassroomService{
		store:    s,
		tokens:   tokens,
		embedder: embedder,
		log:      log,
	}
}

func (s *ClassroomService) SignUp(ctx context.Context, in SignUpInput) (*store.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !auth.ValidEmail(in.Email) {
		return nil, fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	if !auth.ValidPassword(in.Password) {
		return nil, fmt.Errorf("%w: password must be at least 8 characters and contain an uppercase letter, a lowercase letter, a digit and a symbol", ErrInvalidInput)
	}

	switch in.Role {
	case store.RoleTeacher:
	case store.RoleStudent:
		if in.Semester < 1 || in.Semester > 8 {
			return nil, fmt.Errorf("%w: semester must be between 1 and 8", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: role must be %q or %q", ErrInvalidInput, store.RoleStudent, store.RoleTeacher)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &store.User{Name: in.Name, Email: in.Email, PasswordHash: hash}
	if in.Role == store.RoleTeacher {
		err = s.store.CreateTeacherAccount(ctx, user, &store.Teacher{IsAvailable: in.IsAvailable})
	} else {
		err = s.store.CreateStudentAccount(ctx, user, &store.Student{Semester: in.Semester})
	}
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.log.Info("User signed up", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *ClassroomService) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateJWT(user.ID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return token, user, nil
}

func (s *ClassroomService) Semesters(ctx context.Context) ([]store.Semester, error) {
	return s.store.ListSemesters(ctx)
}

func (s *ClassroomService) CreateGroup(ctx context.Context, userID string, in CreateGroupInput) (*store.Group, error) {
	c, err := s.caller(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.teacher == nil {
		return nil, fmt.Errorf("%w: only teachers can create groups", ErrForbidden)
	}

	in.SubjectName = strings.TrimSpace(in.SubjectName)
	if in.SubjectName == "" {
		return nil, fmt.Errorf("%w: subject name is required", ErrInvalidInput)
	}
	if in.GroupType == "" {
		in.GroupType = store.GroupTypeGroup
	}
	if _, err := s.store.GetSemesterByID(ctx, in.SemesterID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown semester %q", ErrInvalidInput, in.SemesterID)
		}
		return nil, err
	}

	memberID := ""
	switch in.GroupType {
	case store.GroupTypeGroup:
	case store.GroupTypePersonal:
		if in.StudentID == "" {
			return nil, fmt.Errorf("%w: personal groups need a student", ErrInvalidInput)
		}
		if _, err := s.store.GetStudentByID(ctx, in.StudentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown student %q", ErrInvalidInput, in.StudentID)
			}
			return nil, err
		}
		memberID = in.StudentID
	default:
		return nil, fmt.Errorf("%w: group type must be %q or %q", ErrInvalidInput, store.GroupTypeGroup, store.GroupTypePersonal)
	}

	group := &store.Group{
		SubjectName: in.SubjectName,
		TeacherID:   c.teacher.ID,
		SemesterID:  in.SemesterID,
		GroupType:   in.GroupType,
	}
	if err := s.store.CreateGroup(ctx, group, memberID); err != nil {
		return nil, err
	}
	s.log.Info("Group created", "group_id", group.ID, "teacher_id", c.teacher.ID, "type", group.GroupType)
	return group, nil
}

func (s *ClassroomService) JoinGroup(ctx context.Context, userID, groupID string) (*store.GroupMember, error) {
	c, err := s.caller(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.student == nil {
		return nil, fmt.Errorf("%w: only students can join groups", ErrForbidden)
	}
	if _, err := s.store.GetGroupByID(ctx, groupID); err != nil {
		return nil, err
	}

	member, err := s.store.AddGroupMember(ctx, groupID, c.student.ID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: already a member of this group", ErrConflict)
		}
		return nil, err
	}
	return member, nil
}

// ListGroups returns the caller's groups arranged by year, then semester.
func (s *ClassroomService) ListGroups(ctx context.Context, userID string) (*GroupOverview, error) {
	c, err := s.caller(ctx, userID)
	if err != nil {
		return nil, err
	}

	var groups []store.Group
	if c.teacher != nil {
		groups, err = s.store.ListGroupsByTeacherID(ctx, c.teacher.ID)
	} else {
		groups, err = s.store.ListGroupsByStudentID(ctx, c.student.ID)
	}
	if err != nil {
		return nil, err
	}

	semesters, err := s.store.ListSemesters(ctx)
	if err != nil {
		return nil, err
	}
	semesterNumbers := make(map[string]int, len(semesters))
	for _, sem := range semesters {
		semesterNumbers[sem.ID] = sem.SemesterNumber
	}

	summaries := make([]GroupSummary, len(groups))
	errs := make([]error, len(groups))
	wg := conc.NewWaitGroup()
	for i := range groups {
		wg.Go(func() {
			summaries[i], errs[i] = s.summarize(ctx, groups[i])
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return organizeByYear(summaries, semesterNumbers), nil
}

func (s *ClassroomService) summarize(ctx context.Context, group store.Group) (GroupSummary, error) {
	count, err := s.store.CountGroupMembers(ctx, group.ID)
	if err != nil {
		return GroupSummary{}, err
	}
	recent, err := s.store.GetLastNMessagesByGroupID(ctx, group.ID, recentMessagesPerGroup)
	if err != nil {
		return GroupSummary{}, err
	}
	return GroupSummary{Group: group, StudentCount: count, RecentMessages: recent}, nil
}

// YearOf maps semesters 1-2 to year 1, 3-4 to year 2 and so on.
func YearOf(semesterNumber int) int {
	return (semesterNumber + 1) / 2
}

func organizeByYear(summaries []GroupSummary, semesterNumbers map[string]int) *GroupOverview {
	bySemester := make(map[int][]GroupSummary)
	semesterIDs := make(map[int]string)
	for _, summary := range summaries {
		n := semesterNumbers[summary.SemesterID]
		bySemester[n] = append(bySemester[n], summary)
		semesterIDs[n] = summary.SemesterID
	}

	numbers := make([]int, 0, len(bySemester))
	for n := range bySemester {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	overview := &GroupOverview{Years: []YearGroups{}}
	for _, n := range numbers {
		year := YearOf(n)
		if len(overview.Years) == 0 || overview.Years[len(overview.Years)-1].Year != year {
			overview.Years = append(overview.Years, YearGroups{Year: year})
		}
		last := &overview.Years[len(overview.Years)-1]
		last.Semesters = append(last.Semesters, SemesterGroups{
			ID:             semesterIDs[n],
			SemesterNumber: n,
			Divisions:      bySemester[n],
		})
	}
	return overview
}

func (s *ClassroomService) GroupDetails(ctx context.Context, userID, groupID string) (*GroupDetails, error) {
	group, err := s.authorizeGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}

	details := &GroupDetails{Group: *group}
	var teacherErr, studentsErr, countErr error
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		details.Teacher, teacherErr = s.teacherInfo(ctx, group.TeacherID)
	})
	wg.Go(func() {
		details.Students, studentsErr = s.store.ListGroupStudents(ctx, group.ID)
	})
	wg.Go(func() {
		details.MessageCount, countErr = s.store.CountMessagesByGroupID(ctx, group.ID)
	})
	wg.Wait()

	if err := errors.Join(teacherErr, studentsErr, countErr); err != nil {
		return nil, err
	}
	if details.Students == nil {
		details.Students = []store.GroupStudent{}
	}
	return details, nil
}

func (s *ClassroomService) teacherInfo(ctx context.Context, teacherID string) (TeacherInfo, error) {
	teacher, err := s.store.GetTeacherByID(ctx, teacherID)
	if err != nil {
		return TeacherInfo{}, fmt.Errorf("failed to load group teacher: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, teacher.UserID)
	if err != nil {
		return TeacherInfo{}, fmt.Errorf("failed to load group teacher: %w", err)
	}
	return TeacherInfo{ID: teacher.ID, Name: user.Name, Email: user.Email, IsAvailable: teacher.IsAvailable}, nil
}

// Messages returns the full history of a group, oldest first.
func (s *ClassroomService) Messages(ctx context.Context, userID, groupID string) ([]store.Message, error) {
	if _, err := s.authorizeGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessagesByGroupID(ctx, groupID, allMessages, 0)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return messages, nil
}

// Search ranks the group's embedded messages by similarity to query.
func (s *ClassroomService) Search(ctx context.Context, userID, groupID, query string) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if _, err := s.authorizeGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	candidates, err := s.store.GetEmbeddedMessagesByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	ranked := utils.RankBySimilarity(queryEmbedding, candidates, func(m store.Message) []float32 { return m.Embedding }, searchThreshold, searchResultLimit)
	hits := make([]SearchHit, len(ranked))
	for i, r := range ranked {
		hits[i] = SearchHit{Message: r.Item, Similarity: r.Similarity}
	}
	s.log.Debug("Searched group messages", "group_id", groupID, "candidates", len(candidates), "hits", len(hits))
	return hits, nil
}

func (s *ClassroomService) SetAvailability(ctx context.Context, userID string, available bool) (*store.Teacher, error) {
	c, err := s.caller(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.teacher == nil {
		return nil, fmt.Errorf("%w: only teachers have an availability", ErrForbidden)
	}
	if err := s.store.SetTeacherAvailability(ctx, c.teacher.ID, available); err != nil {
		return nil, err
	}
	c.teacher.IsAvailable = available
	s.log.Info("Teacher availability changed", "teacher_id", c.teacher.ID, "is_available", available)
	return c.teacher, nil
}

func (s *ClassroomService) caller(ctx context.Context, userID string) (*caller, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrForbidden)
		}
		return nil, err
	}

	c := &caller{user: user}
	switch user.Role {
	case store.RoleTeacher:
		c.teacher, err = s.store.GetTeacherByUserID(ctx, user.ID)
	case store.RoleStudent:
		c.student, err = s.store.GetStudentByUserID(ctx, user.ID)
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", ErrForbidden, user.Role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s profile: %w", user.Role, err)
	}
	return c, nil
}

// AuthorizeSender checks that userID may post into groupID and returns the
// role its messages are recorded under.
func (s *ClassroomService) AuthorizeSender(ctx context.Context, userID, groupID string) (string, error) {
	c, err := s.caller(ctx, userID)
	if err != nil {
		return "", err
	}
	if _, err := s.authorizeCaller(ctx, c, groupID); err != nil {
		return "", err
	}
	return c.user.Role, nil
}

// authorizeGroup lets the group's teacher and its members through.
func (s *ClassroomService) authorizeGroup(ctx context.Context, userID, groupID string) (*store.Group, error) {
	c, err := s.caller(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.authorizeCaller(ctx, c, groupID)
}

func (s *ClassroomService) authorizeCaller(ctx context.Context, c *caller, groupID string) (*store.Group, error) {
	group, err := s.store.GetGroupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if c.teacher != nil {
		if group.TeacherID != c.teacher.ID {
			return nil, fmt.Errorf("%w: not the teacher of this group", ErrForbidden)
		}
		return group, nil
	}
	member, err := s.store.IsGroupMember(ctx, groupID, c.student.ID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fmt.Errorf("%w: not a member of this group", ErrForbidden)
	}
	return group, nil
}
