package spam

import "testing"

func TestLooksLikeAd(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"   \n\t", false},
		{"Курс доллара вырос на 2%", false},
		{"Реклама. ООО Ромашка", true},
		{"На правах рекламы: лучший VPN", true},
		{"Забирай промокод NEWS10 на первый заказ", true},
		{"Скидка 50% только сегодня", true},
		{"Итоги розыгрыша объявим завтра", true},
		{"Подпишись на наш канал!", true},
		{"#реклама новый сервис", true},
		{"Erid: 2VtzqvWq6Xb", true},
		{"Huge GIVEAWAY this week", true},
		{"This post is sponsored by Acme", true},
		{"Use code SAVE20 at checkout", true},
		{"Subscribe now to get updates", true},
		{"Read more https://example.com/a?utm_source=tg&utm_medium=influencer", true},
		{"Link https://shop.example/item?erid=abc123.", true},
		{"Link https://example.com/a?utm_medium=social", false},
		// целые слова: совпадения внутри других слов не считаются
		{"Рекламация по поставке принята", false},
		{"Discountless pricing model", false},
		{"Следите за #adventure блогом", false},
		{"Спонсорство государства в спорте", false},
	}
	for _, tt := range tests {
		if got := LooksLikeAd(tt.text); got != tt.want {
			t.Errorf("%q: ожидалось %v, получено %v", tt.text, tt.want, got)
		}
	}
}

func TestClassifierImplementsInterface(t *testing.T) {
	if !New().LooksLikeAd("Промокод внутри") {
		t.Fatal("classifier must flag promo code")
	}
}
