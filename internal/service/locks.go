package service

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// userLocks набор полосатых мьютексов, сериализующих мутации подписок одного
// пользователя: гонка вебхука, действия админа и смены плана разрешается
// здесь, а compare-and-set в репозитории страхует от других экземпляров
// сервиса.
type userLocks struct {
	stripes [64]sync.Mutex
}

// lock захватывает мьютекс пользователя и возвращает функцию разблокировки
func (l *userLocks) lock(userID uuid.UUID) func() {
	h := fnv.New32a()
	h.Write(userID[:])
	stripe := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	stripe.Lock()
	return stripe.Unlock
}
