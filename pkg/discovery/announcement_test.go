// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"testing"

	"github.com/semc/semc-go/pkg/transport"
)

func TestAnnouncementCbor(t *testing.T) {
	var tests = []Announcement{
		{
			Kind:     transport.KindUDP,
			Instance: "Device-01",
			Port:     4763,
		},
		{
			Kind:     transport.KindTCP,
			Instance: "Device-01",
			Port:     4763,
		},
		{
			Kind:     transport.KindQUIC,
			Instance: "kitchen-light",
			Port:     12345,
		},
	}

	for _, announcementIn := range tests {
		buff, err := MarshalAnnouncements([]Announcement{announcementIn})
		if err != nil {
			t.Fatalf("Encoding failed: %v", err)
		}

		announcementsOut, err := UnmarshalAnnouncements(buff)
		if err != nil {
			t.Fatalf("Decoding failed: %v", err)
		}

		if l := len(announcementsOut); l != 1 {
			t.Fatalf("Length of decoded Announcements is %d != 1", l)
		}

		if !reflect.DeepEqual(announcementIn, announcementsOut[0]) {
			t.Fatalf("Decoded Announcement differs: %v became %v", announcementIn, announcementsOut[0])
		}
	}
}

func TestAnnouncementEmptyInstance(t *testing.T) {
	buff, err := MarshalAnnouncements([]Announcement{{Kind: transport.KindUDP, Port: 4763}})
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}

	if _, err := UnmarshalAnnouncements(buff); err == nil {
		t.Fatal("expected an error for an empty instance name")
	}
}
